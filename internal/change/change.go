// Package change classifies fetched pages against their last stored version.
package change

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/markdown-crawler/internal/hash/sha256"
	"github.com/JakeFAU/markdown-crawler/internal/history"
)

// Strategy selects which hash is compared against the baseline.
type Strategy string

// Supported strategies. They are exclusive: only one hash is compared.
const (
	StrategyContentHash Strategy = "content_hash"
	StrategyStructural  Strategy = "structural"
)

// ParseStrategy validates a configured strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyContentHash, "":
		return StrategyContentHash, nil
	case StrategyStructural:
		return StrategyStructural, nil
	default:
		return "", fmt.Errorf("unknown change strategy %q", s)
	}
}

// Classification is the outcome of comparing a fetch to its baseline.
type Classification string

// Classifications.
const (
	New       Classification = "new"
	Changed   Classification = "changed"
	Unchanged Classification = "unchanged"
)

// Persist reports whether the classification requires a new content version.
func (c Classification) Persist() bool {
	return c == New || c == Changed
}

// Hashes are the digests computed for one fetched page.
type Hashes struct {
	Content    string
	Structural string
}

// Compute derives both hashes from fetched markdown.
func Compute(markdown string) Hashes {
	return Hashes{
		Content:    ContentHash(markdown),
		Structural: StructuralHash(markdown),
	}
}

// ContentHash digests the raw markdown bytes.
func ContentHash(markdown string) string {
	return sha256.SumString(markdown)
}

// StructuralHash digests the block skeleton of the markdown.
func StructuralHash(markdown string) string {
	return sha256.SumString(Skeleton(markdown))
}

// Baseline looks up the most recent stored version of a URL.
type Baseline interface {
	LatestVersion(ctx context.Context, url string) (history.ContentVersion, error)
}

// Detector classifies fetches under a fixed strategy.
type Detector struct {
	baseline     Baseline
	strategy     Strategy
	forceRefresh bool
}

// NewDetector builds a Detector. Runs construct one from their config snapshot.
func NewDetector(baseline Baseline, strategy Strategy, forceRefresh bool) *Detector {
	if strategy == "" {
		strategy = StrategyContentHash
	}
	return &Detector{baseline: baseline, strategy: strategy, forceRefresh: forceRefresh}
}

// Strategy returns the comparison policy in use.
func (d *Detector) Strategy() Strategy {
	return d.strategy
}

// Classify compares hashes with the newest stored version of url.
func (d *Detector) Classify(ctx context.Context, url string, hashes Hashes) (Classification, error) {
	latest, err := d.baseline.LatestVersion(ctx, url)
	if errors.Is(err, history.ErrNotFound) {
		return New, nil
	}
	if err != nil {
		return "", fmt.Errorf("load baseline: %w", err)
	}
	if d.forceRefresh {
		return Changed, nil
	}

	var previous, current string
	switch d.strategy {
	case StrategyStructural:
		previous, current = latest.StructuralHash, hashes.Structural
	default:
		previous, current = latest.ContentHash, hashes.Content
	}
	if previous != current {
		return Changed, nil
	}
	return Unchanged, nil
}
