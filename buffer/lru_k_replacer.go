package buffer

import (
	"container/list"
	"fmt"
	"sync"

	"pagedb/utils"
)

// LRUKReplacer selects eviction victims by backward k-distance: the time since
// the k-th most recent access. Frames with fewer than k recorded accesses have
// infinite k-distance and live in the history list; frames with k or more live
// in the cache list. Victims are taken from the history list first, oldest
// entry first, then from the cache list the same way.
//
// Both lists keep the most recent entry at the front, paired with a frame-id
// to element table so every list operation is O(1).
// The LRUKReplacer is thread-safe.
type LRUKReplacer struct {
	mu        sync.Mutex
	numFrames int
	k         int
	currSize  int
	history   *list.List
	cache     *list.List
	entries   map[utils.FrameID]*frameEntry
}

type frameEntry struct {
	accessCount int
	evictable   bool
	inCache     bool
	elem        *list.Element
}

// NewLRUKReplacer creates a replacer tracking numFrames frames with the given
// k. k=1 degenerates to classical LRU.
func NewLRUKReplacer(numFrames, k int) *LRUKReplacer {
	if numFrames <= 0 {
		panic(fmt.Sprintf("buffer: invalid replacer size %d", numFrames))
	}
	if k < 1 {
		panic(fmt.Sprintf("buffer: invalid replacer k %d", k))
	}
	return &LRUKReplacer{
		numFrames: numFrames,
		k:         k,
		history:   list.New(),
		cache:     list.New(),
		entries:   make(map[utils.FrameID]*frameEntry),
	}
}

// checkFrame panics on out-of-range frame ids: a caller bug.
func (r *LRUKReplacer) checkFrame(frameID utils.FrameID) {
	if frameID < 0 || int(frameID) >= r.numFrames {
		panic(fmt.Sprintf("buffer: frame id %d out of range [0, %d)", frameID, r.numFrames))
	}
}

// RecordAccess registers a reference to the frame. A frame reaching its k-th
// access migrates from the history list to the cache list.
func (r *LRUKReplacer) RecordAccess(frameID utils.FrameID) {
	r.checkFrame(frameID)
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[frameID]
	if !ok {
		e = &frameEntry{}
		r.entries[frameID] = e
	}
	e.accessCount++

	switch {
	case e.accessCount == r.k:
		if e.elem != nil {
			r.history.Remove(e.elem)
		}
		e.elem = r.cache.PushFront(frameID)
		e.inCache = true
	case e.accessCount > r.k:
		if e.elem != nil {
			r.cache.Remove(e.elem)
		}
		e.elem = r.cache.PushFront(frameID)
	default:
		if e.elem != nil {
			r.history.Remove(e.elem)
		}
		e.elem = r.history.PushFront(frameID)
	}
}

// SetEvictable marks whether the frame may be chosen as a victim and adjusts
// the evictable-frame counter.
func (r *LRUKReplacer) SetEvictable(frameID utils.FrameID, evictable bool) {
	r.checkFrame(frameID)
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[frameID]
	if !ok {
		e = &frameEntry{}
		r.entries[frameID] = e
	}
	if !e.evictable && evictable {
		r.currSize++
	}
	if e.evictable && !evictable {
		r.currSize--
	}
	e.evictable = evictable
}

// Evict selects an evictable frame, scanning the history list from its least
// recently accessed entry, then the cache list the same way. Because the cache
// list is ordered by most recent access, a cache-list victim is the least
// recently used one, not necessarily the one whose k-th most recent access is
// oldest. The victim's access history is reset.
func (r *LRUKReplacer) Evict() (utils.FrameID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, l := range []*list.List{r.history, r.cache} {
		for elem := l.Back(); elem != nil; elem = elem.Prev() {
			frameID := elem.Value.(utils.FrameID)
			if !r.entries[frameID].evictable {
				continue
			}
			l.Remove(elem)
			delete(r.entries, frameID)
			r.currSize--
			return frameID, true
		}
	}
	return 0, false
}

// Remove drops the frame from the replacer, resetting its access history.
// Removing a frame that was never recorded is a no-op; removing a tracked
// non-evictable frame is a caller bug and panics.
func (r *LRUKReplacer) Remove(frameID utils.FrameID) {
	r.checkFrame(frameID)
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[frameID]
	if !ok {
		return
	}
	if !e.evictable {
		panic(fmt.Sprintf("buffer: removing non-evictable frame %d", frameID))
	}
	if e.elem != nil {
		if e.inCache {
			r.cache.Remove(e.elem)
		} else {
			r.history.Remove(e.elem)
		}
	}
	delete(r.entries, frameID)
	r.currSize--
}

// Size returns the number of evictable frames.
func (r *LRUKReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.currSize
}
