package memory

import (
	"testing"

	"github.com/JakeFAU/markdown-crawler/internal/history"
	"github.com/JakeFAU/markdown-crawler/internal/history/historytest"
)

func TestStoreContract(t *testing.T) {
	t.Parallel()

	historytest.Run(t, func(*testing.T) history.Store {
		return NewStore()
	})
}
