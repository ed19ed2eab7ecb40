package buffer

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagedb/disk"
	"pagedb/log"
	"pagedb/utils"
)

const testPageSize = 256

type testEnv struct {
	dm *disk.Manager
	lm *log.Manager
	bm *Manager
}

// setupTest creates a new test environment with the specified pool geometry
func setupTest(t *testing.T, poolSize, replacerK int) *testEnv {
	t.Helper()
	dm, err := disk.NewManager(filepath.Join(t.TempDir(), "test.db"), testPageSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dm.Close() })

	lm, err := log.NewManager(dm)
	require.NoError(t, err)

	return &testEnv{
		dm: dm,
		lm: lm,
		bm: NewManager(dm, lm, poolSize, replacerK),
	}
}

// fillPage writes a recognizable pattern into the page buffer
func fillPage(p *Page, seed string) {
	data := p.Contents()
	for i := range data {
		data[i] = 0
	}
	copy(data, seed)
}

func pageBytes(seed string) []byte {
	b := make([]byte, testPageSize)
	copy(b, seed)
	return b
}

func TestBufferPoolManager(t *testing.T) {
	t.Run("basic page operations", func(t *testing.T) {
		env := setupTest(t, 3, 2)

		p, err := env.bm.NewPage()
		require.NoError(t, err)

		assert.Equal(t, utils.PageID(0), p.ID(), "first page id should be 0")
		assert.Equal(t, 1, p.PinCount(), "new page should be pinned once")
		assert.False(t, p.IsDirty(), "new page should be clean")
		assert.Equal(t, make([]byte, testPageSize), p.Contents(), "new page buffer should be zeroed")

		assert.True(t, env.bm.UnpinPage(p.ID(), false))
		assert.Equal(t, 3, env.bm.Available(), "all frames should be reclaimable after unpinning")
	})

	t.Run("page ids are monotonic", func(t *testing.T) {
		env := setupTest(t, 3, 2)

		for i := 0; i < 3; i++ {
			p, err := env.bm.NewPage()
			require.NoError(t, err)
			assert.Equal(t, utils.PageID(i), p.ID())
		}
	})

	t.Run("pool fill and eviction", func(t *testing.T) {
		env := setupTest(t, 3, 2)

		// Fill the pool with pinned pages 0, 1, 2
		for i := 0; i < 3; i++ {
			p, err := env.bm.NewPage()
			require.NoError(t, err)
			assert.Equal(t, utils.PageID(i), p.ID())
		}

		// The pool is full of pinned pages: no new page fits
		_, err := env.bm.NewPage()
		assert.ErrorIs(t, err, ErrNoAvailableFrame)

		// Unpinning page 0 frees its frame for a fresh page
		assert.True(t, env.bm.UnpinPage(0, false))
		p, err := env.bm.NewPage()
		require.NoError(t, err)
		assert.Equal(t, utils.PageID(3), p.ID())

		// Pages 1, 2, 3 are all pinned now, so page 0 cannot come back
		_, err = env.bm.FetchPage(0)
		assert.ErrorIs(t, err, ErrNoAvailableFrame)
	})

	t.Run("dirty eviction writes to disk", func(t *testing.T) {
		env := setupTest(t, 1, 1)

		p0, err := env.bm.NewPage()
		require.NoError(t, err)
		fillPage(p0, "A page worth keeping")
		assert.True(t, env.bm.UnpinPage(p0.ID(), true))

		// Allocating the next page evicts page 0; the dirty contents must hit
		// disk before the frame is reused.
		p1, err := env.bm.NewPage()
		require.NoError(t, err)
		assert.Equal(t, utils.PageID(1), p1.ID())
		assert.Equal(t, 1, env.dm.GetPagesWritten(), "eviction of a dirty page should write it")

		onDisk := make([]byte, testPageSize)
		require.NoError(t, env.dm.ReadPage(0, onDisk))
		assert.Equal(t, pageBytes("A page worth keeping"), onDisk)
	})

	t.Run("clean eviction skips the write", func(t *testing.T) {
		env := setupTest(t, 1, 1)

		p0, err := env.bm.NewPage()
		require.NoError(t, err)
		assert.True(t, env.bm.UnpinPage(p0.ID(), false))

		_, err = env.bm.NewPage()
		require.NoError(t, err)
		assert.Equal(t, 0, env.dm.GetPagesWritten(), "clean victim should not be written")
	})

	t.Run("fetch round trip through eviction", func(t *testing.T) {
		env := setupTest(t, 1, 1)

		p0, err := env.bm.NewPage()
		require.NoError(t, err)
		fillPage(p0, "hello, buffer pool")
		assert.True(t, env.bm.UnpinPage(p0.ID(), true))

		// Evict page 0, then bring it back from disk
		p1, err := env.bm.NewPage()
		require.NoError(t, err)
		assert.True(t, env.bm.UnpinPage(p1.ID(), false))

		fetched, err := env.bm.FetchPage(0)
		require.NoError(t, err)
		assert.Equal(t, utils.PageID(0), fetched.ID())
		assert.Equal(t, 1, fetched.PinCount())
		assert.Equal(t, pageBytes("hello, buffer pool"), fetched.Contents())
	})

	t.Run("fetch of resident page is a cache hit", func(t *testing.T) {
		env := setupTest(t, 2, 2)

		p0, err := env.bm.NewPage()
		require.NoError(t, err)
		fillPage(p0, "resident")
		assert.True(t, env.bm.UnpinPage(p0.ID(), true))

		readsBefore := env.dm.GetPagesRead()
		fetched, err := env.bm.FetchPage(p0.ID())
		require.NoError(t, err)
		assert.Equal(t, readsBefore, env.dm.GetPagesRead(), "resident fetch should not touch disk")
		assert.Equal(t, pageBytes("resident"), fetched.Contents())
		assert.Same(t, p0, fetched, "resident fetch should return the same frame")
	})

	t.Run("pin counts accumulate across fetches", func(t *testing.T) {
		env := setupTest(t, 1, 2)

		p, err := env.bm.NewPage()
		require.NoError(t, err)

		_, err = env.bm.FetchPage(p.ID())
		require.NoError(t, err)
		assert.Equal(t, 2, p.PinCount())

		assert.True(t, env.bm.UnpinPage(p.ID(), false))
		assert.Equal(t, 1, p.PinCount())
		assert.Equal(t, 0, env.bm.Available(), "page with remaining pins is not evictable")

		assert.True(t, env.bm.UnpinPage(p.ID(), false))
		assert.Equal(t, 1, env.bm.Available())
	})

	t.Run("unpin idempotence", func(t *testing.T) {
		env := setupTest(t, 2, 2)

		p, err := env.bm.NewPage()
		require.NoError(t, err)

		assert.True(t, env.bm.UnpinPage(p.ID(), false), "first unpin should succeed")
		assert.False(t, env.bm.UnpinPage(p.ID(), false), "second unpin should report failure")
		assert.False(t, env.bm.UnpinPage(42, false), "unpin of absent page should report failure")
	})

	t.Run("unpin dirty hint cannot clear the dirty flag", func(t *testing.T) {
		env := setupTest(t, 2, 2)

		p, err := env.bm.NewPage()
		require.NoError(t, err)
		fillPage(p, "modified once")

		// Two holders; the second one did not modify the page, but its clean
		// hint must not undo the first holder's report.
		_, err = env.bm.FetchPage(p.ID())
		require.NoError(t, err)
		assert.True(t, env.bm.UnpinPage(p.ID(), true))
		assert.True(t, env.bm.UnpinPage(p.ID(), false))
		assert.True(t, p.IsDirty(), "dirty flag must be sticky until flushed")
	})

	t.Run("flush page", func(t *testing.T) {
		env := setupTest(t, 2, 2)

		p, err := env.bm.NewPage()
		require.NoError(t, err)
		fillPage(p, "flush me")
		assert.True(t, env.bm.UnpinPage(p.ID(), true))

		assert.True(t, env.bm.FlushPage(p.ID()))
		assert.False(t, p.IsDirty(), "flush should clear the dirty flag")

		onDisk := make([]byte, testPageSize)
		require.NoError(t, env.dm.ReadPage(p.ID(), onDisk))
		assert.Equal(t, pageBytes("flush me"), onDisk)

		assert.False(t, env.bm.FlushPage(99), "flush of absent page should report failure")
	})

	t.Run("flush does not change pins or evictability", func(t *testing.T) {
		env := setupTest(t, 2, 2)

		p, err := env.bm.NewPage()
		require.NoError(t, err)
		fillPage(p, "still pinned")

		assert.True(t, env.bm.FlushPage(p.ID()))
		assert.Equal(t, 1, p.PinCount())
		assert.Equal(t, 1, env.bm.Available())
	})

	t.Run("flush all pages", func(t *testing.T) {
		env := setupTest(t, 3, 2)

		seeds := []string{"page zero", "page one", "page two"}
		for _, seed := range seeds {
			p, err := env.bm.NewPage()
			require.NoError(t, err)
			fillPage(p, seed)
			assert.True(t, env.bm.UnpinPage(p.ID(), true))
		}

		require.NoError(t, env.bm.FlushAllPages())

		for i, seed := range seeds {
			onDisk := make([]byte, testPageSize)
			require.NoError(t, env.dm.ReadPage(utils.PageID(i), onDisk))
			assert.Equalf(t, pageBytes(seed), onDisk, "page %d should be on disk after FlushAllPages", i)
		}
	})

	t.Run("delete page", func(t *testing.T) {
		env := setupTest(t, 2, 2)

		p, err := env.bm.NewPage()
		require.NoError(t, err)
		pageID := p.ID()

		// A pinned page refuses deletion and stays resident
		assert.False(t, env.bm.DeletePage(pageID))
		fetched, err := env.bm.FetchPage(pageID)
		require.NoError(t, err)
		assert.Equal(t, 2, fetched.PinCount(), "refused delete must leave the page resident")

		assert.True(t, env.bm.UnpinPage(pageID, false))
		assert.True(t, env.bm.UnpinPage(pageID, false))

		assert.True(t, env.bm.DeletePage(pageID))
		assert.Equal(t, 2, env.bm.Available(), "deleted page's frame should return to the free list")

		// Deleting an absent page is a no-op success
		assert.True(t, env.bm.DeletePage(pageID))
	})

	t.Run("delete discards unflushed modifications", func(t *testing.T) {
		env := setupTest(t, 1, 1)

		p, err := env.bm.NewPage()
		require.NoError(t, err)
		fillPage(p, "doomed bytes")
		assert.True(t, env.bm.UnpinPage(p.ID(), true))
		assert.True(t, env.bm.DeletePage(p.ID()))

		assert.Equal(t, 0, env.dm.GetPagesWritten(), "deleted page must not be written")
	})

	t.Run("lru-k keeps the hot frame resident", func(t *testing.T) {
		env := setupTest(t, 2, 2)

		p0, err := env.bm.NewPage()
		require.NoError(t, err)
		assert.True(t, env.bm.UnpinPage(p0.ID(), false))

		p1, err := env.bm.NewPage()
		require.NoError(t, err)
		assert.True(t, env.bm.UnpinPage(p1.ID(), false))

		// Heat up page 0: its frame reaches k accesses, page 1's stays below
		fetched, err := env.bm.FetchPage(p0.ID())
		require.NoError(t, err)
		assert.True(t, env.bm.UnpinPage(fetched.ID(), false))

		// The next allocation must victimize page 1's frame (history list)
		p2, err := env.bm.NewPage()
		require.NoError(t, err)
		assert.True(t, env.bm.UnpinPage(p2.ID(), false))

		readsBefore := env.dm.GetPagesRead()
		_, err = env.bm.FetchPage(p0.ID())
		require.NoError(t, err)
		assert.Equal(t, readsBefore, env.dm.GetPagesRead(), "hot page 0 should still be resident")
	})
}

func TestBufferPoolManagerConcurrentAccess(t *testing.T) {
	env := setupTest(t, 10, 2)

	// Seed pages for the workers to fight over
	numPages := 5
	for i := 0; i < numPages; i++ {
		p, err := env.bm.NewPage()
		require.NoError(t, err)
		fillPage(p, fmt.Sprintf("seed %d", i))
		require.True(t, env.bm.UnpinPage(p.ID(), true))
	}

	var wg sync.WaitGroup
	numWorkers := 8
	opsPerWorker := 200
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < opsPerWorker; i++ {
				pageID := utils.PageID((w + i) % numPages)
				p, err := env.bm.FetchPage(pageID)
				if err != nil {
					// Transiently exhausted pool; try again later
					continue
				}
				prefix := []byte(fmt.Sprintf("seed %d", pageID))
				if !bytes.HasPrefix(p.Contents(), prefix) {
					t.Errorf("page %d holds foreign contents", pageID)
				}
				env.bm.UnpinPage(pageID, false)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 10, env.bm.Available(), "all pins should be released")
}
