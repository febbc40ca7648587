package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/markdown-crawler/internal/crawl"
	"github.com/JakeFAU/markdown-crawler/internal/history"
	"github.com/JakeFAU/markdown-crawler/internal/progress"
)

type crawlFlags struct {
	url           string
	skipDocs      bool
	downloadFiles bool
	headless      bool
}

func newCrawlCmd() *cobra.Command {
	var flags crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run a single crawl and print its summary",
		Long: `Crawls the given URL once with the configured limits, writing Markdown
to the configured storage and recording versions in the history store.
Interrupting the command stops the crawl and records it as stopped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = appInstance.Close(context.WithoutCancel(cmd.Context())) }()
			if flags.url == "" {
				return errors.New("--url is required")
			}
			return runCrawl(cmd.Context(), appInstance.Crawls(), flags, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&flags.url, "url", "", "seed URL to crawl")
	cmd.Flags().BoolVar(&flags.skipDocs, "skip-docs", false, "skip document discovery and conversion")
	cmd.Flags().BoolVar(&flags.downloadFiles, "download-files", false, "also store the original document files")
	cmd.Flags().BoolVar(&flags.headless, "headless", false, "render pages with headless Chrome")
	return cmd
}

func runCrawl(ctx context.Context, crawls *crawl.Registry, flags crawlFlags, out, errOut io.Writer) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h, err := crawls.Start(ctx, crawl.Request{
		URL:           flags.url,
		SkipDocs:      flags.skipDocs,
		DownloadFiles: flags.downloadFiles,
		Headless:      flags.headless,
	})
	if err != nil {
		return fmt.Errorf("start crawl: %w", err)
	}

	spinner := newSpinner(errOut, fmt.Sprintf("crawling %s", flags.url))
	events, cancel := subscribe(crawls, h)
	defer cancel()

	watched := make(chan struct{})
	go func() {
		defer close(watched)
		for evt := range events {
			if evt.RunID != h.ID() || evt.URL == "" {
				continue
			}
			spinner.Describe(color.CyanString("%s %s", evt.Stage, evt.URL))
			_ = spinner.Add(1)
		}
	}()

	var summary crawl.Summary
	select {
	case <-h.Done():
		summary, _ = h.Wait(context.WithoutCancel(ctx))
	case <-ctx.Done():
		h.Stop()
		summary, _ = h.Wait(context.WithoutCancel(ctx))
	}
	cancel()
	<-watched
	_ = spinner.Finish()
	_, _ = fmt.Fprintln(errOut)

	printSummary(out, summary)
	if summary.Status == history.RunFailed {
		return fmt.Errorf("crawl %s failed: %w", summary.RunID, summary.Err)
	}
	return nil
}

// subscribe attaches to the run's live events. A run that already finished
// yields a closed channel.
func subscribe(crawls *crawl.Registry, h *crawl.Handle) (<-chan progress.Event, func()) {
	active, events, cancel, err := crawls.Subscribe()
	if err != nil || active.ID() != h.ID() {
		if cancel != nil {
			cancel()
		}
		closed := make(chan progress.Event)
		close(closed)
		return closed, func() {}
	}
	return events, cancel
}

func newSpinner(w io.Writer, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("items"),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func printSummary(w io.Writer, s crawl.Summary) {
	status := string(s.Status)
	switch s.Status {
	case history.RunCompleted:
		status = color.GreenString("✓ %s", status)
	case history.RunStopped:
		status = color.YellowString("■ %s", status)
	default:
		status = color.RedString("✗ %s", status)
	}
	_, _ = fmt.Fprintf(w, "run %s %s\n", s.RunID, status)
	_, _ = fmt.Fprintf(w, "  pages:     %d\n", s.Counts.Pages)
	_, _ = fmt.Fprintf(w, "  documents: %d\n", s.Counts.Documents)
	_, _ = fmt.Fprintf(w, "  errors:    %d\n", s.Counts.Errors)
	for _, uri := range s.DocumentURLs {
		_, _ = fmt.Fprintf(w, "  %s %s\n", color.BlueString("→"), uri)
	}
	if s.Err != nil && !errors.Is(s.Err, crawl.ErrStopped) {
		_, _ = fmt.Fprintf(w, "  %s %v\n", color.RedString("error:"), s.Err)
	}
}
