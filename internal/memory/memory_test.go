package memory

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(zaptest.NewLogger(t))
}

func TestMemorizeRecall_InsertionOrder(t *testing.T) {
	store := setupStore(t)

	store.Memorize("first fact", nil)
	store.Memorize("second fact", []string{"a"})
	store.Memorize("third fact", []string{"b"})

	all := store.Recall("", nil)
	require.Len(t, all, 3)
	assert.Equal(t, "first fact", all[0].Content)
	assert.Equal(t, "second fact", all[1].Content)
	assert.Equal(t, "third fact", all[2].Content)
	assert.Equal(t, all, store.All())
}

func TestRecall_QueryMatchesContentAndTags(t *testing.T) {
	store := setupStore(t)
	store.Memorize("BTC price is $60k", []string{"crypto", "price"})

	assert.Len(t, store.Recall("price", nil), 1, "query matches content")
	assert.Len(t, store.Recall("PRICE", nil), 1, "query is case-insensitive")
	assert.Len(t, store.Recall("crypto", nil), 1, "query matches tag labels")
	assert.Empty(t, store.Recall("weather", nil))
}

func TestRecall_TagFilterIntersection(t *testing.T) {
	store := setupStore(t)
	store.Memorize("login form found on /signin", []string{"auth", "navigation"})
	store.Memorize("pricing table on /plans", []string{"pricing"})

	assert.Len(t, store.Recall("", []string{"auth"}), 1)
	assert.Len(t, store.Recall("", []string{"AUTH"}), 1, "tag match is case-insensitive")
	assert.Len(t, store.Recall("", []string{"pricing", "auth"}), 2, "any shared tag qualifies")
	assert.Empty(t, store.Recall("", []string{"billing"}))

	// Query and tags combine conjunctively.
	assert.Len(t, store.Recall("signin", []string{"auth"}), 1)
	assert.Empty(t, store.Recall("signin", []string{"pricing"}))
}

func TestClear(t *testing.T) {
	store := setupStore(t)
	store.Memorize("ephemeral", nil)
	require.Equal(t, 1, store.Len())

	store.Clear()
	assert.Equal(t, 0, store.Len())
	assert.Empty(t, store.All())

	// Store is usable after a clear.
	store.Memorize("fresh", nil)
	assert.Equal(t, 1, store.Len())
}

func TestEntriesAreImmutableCopies(t *testing.T) {
	store := setupStore(t)
	tags := []string{"mutable"}
	store.Memorize("fact", tags)

	// Mutating the caller's slice must not affect the stored entry.
	tags[0] = "changed"
	got := store.All()
	require.Len(t, got, 1)
	assert.Equal(t, []string{"mutable"}, got[0].Tags)
}

func TestConcurrentAccess(t *testing.T) {
	store := setupStore(t)
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				store.Memorize(fmt.Sprintf("writer %d entry %d", n, j), []string{"load"})
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				store.Recall("entry", []string{"load"})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 8*50, store.Len())
}
