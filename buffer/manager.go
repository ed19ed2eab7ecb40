package buffer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"

	"pagedb/disk"
	"pagedb/hashtable"
	"pagedb/log"
	"pagedb/utils"
)

// DefaultBucketSize is the bucket capacity of the page table's extendible hash
// directory.
const DefaultBucketSize = 8

// ErrNoAvailableFrame is returned when every frame is pinned: no frame is free
// and no frame is evictable.
var ErrNoAvailableFrame = errors.New("no free frame and no evictable frame")

// Manager manages the pinning and unpinning of buffer frames to disk pages. It
// also handles the flushing of dirty frames. It maintains a fixed pool of
// frames, a page table mapping resident page ids to frames, and a replacement
// policy that chooses which unpinned frame to evict when a new page needs a
// slot.
//
// Every public operation runs under one mutex, including the disk I/O
// performed on fetch and eviction, so page-table lookups, replacer updates and
// frame mutations compose atomically.
type Manager struct {
	poolSize    int
	diskManager *disk.Manager
	logManager  *log.Manager
	pages       []*Page
	pageTable   *hashtable.Table[utils.PageID, utils.FrameID]
	replacer    Replacer
	freeList    []utils.FrameID
	nextPageID  utils.PageID
	mu          sync.Mutex
}

// pageIDHasher is the production hash for the page table directory.
func pageIDHasher(id utils.PageID) uint64 {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(id))
	return xxhash.Sum64(b[:])
}

// NewManager creates a buffer pool of poolSize frames backed by the given disk
// manager, using an LRU-K replacement policy with the given k. The log
// manager reference is retained for the write-ahead logging collaborators of
// higher layers; the buffer pool itself imposes no WAL ordering.
func NewManager(diskManager *disk.Manager, logManager *log.Manager, poolSize, replacerK int) *Manager {
	return NewManagerWithReplacer(diskManager, logManager, poolSize, NewLRUKReplacer(poolSize, replacerK))
}

// NewManagerWithReplacer creates a buffer pool using the supplied replacement
// policy instead of the LRU-K default.
func NewManagerWithReplacer(diskManager *disk.Manager, logManager *log.Manager, poolSize int, replacer Replacer) *Manager {
	if poolSize <= 0 {
		panic(fmt.Sprintf("buffer: invalid pool size %d", poolSize))
	}
	m := &Manager{
		poolSize:    poolSize,
		diskManager: diskManager,
		logManager:  logManager,
		pages:       make([]*Page, poolSize),
		pageTable:   hashtable.New[utils.PageID, utils.FrameID](DefaultBucketSize, pageIDHasher),
		replacer:    replacer,
		freeList:    make([]utils.FrameID, poolSize),
	}
	// Initially, every frame is in the free list.
	for i := 0; i < poolSize; i++ {
		m.pages[i] = newPage(diskManager.PageSize())
		m.freeList[i] = utils.FrameID(i)
	}
	return m
}

// NewPage allocates a fresh page, pins it in a frame and returns its handle.
// Returns ErrNoAvailableFrame when every frame is pinned.
func (m *Manager) NewPage() (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameID, err := m.acquireFrame()
	if err != nil {
		return nil, err
	}

	pageID := m.allocatePage()
	m.pageTable.Insert(pageID, frameID)

	p := m.pages[frameID]
	p.id = pageID
	p.pinCount = 1
	p.isDirty = false
	for i := range p.data {
		p.data[i] = 0
	}
	m.replacer.SetEvictable(frameID, false)
	m.replacer.RecordAccess(frameID)

	return p, nil
}

// FetchPage returns a pinned handle for the specified page, reading it from
// disk if it is not resident. Returns ErrNoAvailableFrame when the page is not
// resident and every frame is pinned.
func (m *Manager) FetchPage(pageID utils.PageID) (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if frameID, ok := m.pageTable.Find(pageID); ok {
		p := m.pages[frameID]
		p.pinCount++
		m.replacer.SetEvictable(frameID, false)
		m.replacer.RecordAccess(frameID)
		return p, nil
	}

	frameID, err := m.acquireFrame()
	if err != nil {
		return nil, err
	}

	p := m.pages[frameID]
	if err := m.diskManager.ReadPage(pageID, p.data); err != nil {
		// The frame was already detached from its old page; hand it back.
		m.freeList = append(m.freeList, frameID)
		return nil, fmt.Errorf("cannot fetch page %d: %v", pageID, err)
	}

	m.pageTable.Insert(pageID, frameID)
	p.id = pageID
	p.pinCount = 1
	p.isDirty = false
	m.replacer.SetEvictable(frameID, false)
	m.replacer.RecordAccess(frameID)

	return p, nil
}

// UnpinPage drops one pin from the specified page. Once the pin count reaches
// zero the frame becomes an eviction candidate. A true isDirty reports that
// the caller modified the page; the frame stays dirty until flushed regardless
// of later hints. Returns false if the page is not resident or was not pinned.
func (m *Manager) UnpinPage(pageID utils.PageID, isDirty bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameID, ok := m.pageTable.Find(pageID)
	if !ok {
		return false
	}
	p := m.pages[frameID]
	if p.pinCount == 0 {
		return false
	}
	p.pinCount--
	if p.pinCount == 0 {
		m.replacer.SetEvictable(frameID, true)
	}
	if isDirty {
		p.isDirty = true
	}
	return true
}

// FlushPage writes the specified page to disk if it is dirty and clears the
// dirty flag. Pin count and evictability are untouched. Returns false if the
// page is not resident or the write failed; a failed write leaves the frame
// dirty.
func (m *Manager) FlushPage(pageID utils.PageID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameID, ok := m.pageTable.Find(pageID)
	if !ok {
		return false
	}
	return m.flushFrame(m.pages[frameID]) == nil
}

// FlushAllPages writes every resident dirty page to disk and clears the dirty
// flags.
func (m *Manager) FlushAllPages() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.pages {
		if p.id == utils.InvalidPageID {
			continue
		}
		if err := m.flushFrame(p); err != nil {
			return err
		}
	}
	return nil
}

// flushFrame writes the frame's page if dirty. Not thread-safe.
func (m *Manager) flushFrame(p *Page) error {
	if !p.isDirty {
		return nil
	}
	if err := m.diskManager.WritePage(p.id, p.data); err != nil {
		return fmt.Errorf("cannot flush page %d: %v", p.id, err)
	}
	p.isDirty = false
	return nil
}

// DeletePage removes the specified page from the pool, discarding any
// unflushed modifications, and returns its frame to the free list. Returns
// true if the page is not resident (nothing to do), false if it is still
// pinned.
func (m *Manager) DeletePage(pageID utils.PageID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameID, ok := m.pageTable.Find(pageID)
	if !ok {
		return true
	}
	p := m.pages[frameID]
	if p.pinCount > 0 {
		return false
	}

	m.pageTable.Remove(pageID)
	m.replacer.Remove(frameID)
	p.reset()
	m.freeList = append(m.freeList, frameID)
	m.deallocatePage(pageID)
	return true
}

// Available returns the number of frames that could hold a new page right
// now: free frames plus evictable ones.
func (m *Manager) Available() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.freeList) + m.replacer.Size()
}

// PoolSize returns the number of frames in the pool.
func (m *Manager) PoolSize() int {
	return m.poolSize
}

// acquireFrame produces an empty frame: from the free list if possible,
// otherwise by evicting an unpinned frame. A dirty victim is written to disk
// and its page-table entry removed before the frame is handed out.
// Not thread-safe.
func (m *Manager) acquireFrame() (utils.FrameID, error) {
	if len(m.freeList) > 0 {
		frameID := m.freeList[0]
		m.freeList = m.freeList[1:]
		return frameID, nil
	}

	frameID, ok := m.replacer.Evict()
	if !ok {
		return 0, ErrNoAvailableFrame
	}

	p := m.pages[frameID]
	if p.isDirty {
		if err := m.diskManager.WritePage(p.id, p.data); err != nil {
			// The victim cannot be reused without losing data; restore its
			// eviction candidacy and report the pool as unavailable.
			m.replacer.RecordAccess(frameID)
			m.replacer.SetEvictable(frameID, true)
			return 0, fmt.Errorf("cannot evict page %d: %v", p.id, err)
		}
		p.isDirty = false
	}
	m.pageTable.Remove(p.id)
	p.id = utils.InvalidPageID
	return frameID, nil
}

// allocatePage mints the next page id. Not thread-safe.
func (m *Manager) allocatePage() utils.PageID {
	pageID := m.nextPageID
	m.nextPageID++
	return pageID
}

// deallocatePage releases a page id back to the allocator. The monotonic
// allocator does not reuse ids.
func (m *Manager) deallocatePage(pageID utils.PageID) {}
