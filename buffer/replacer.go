package buffer

import "pagedb/utils"

// Replacer defines the interface for page replacement policies. The Manager
// reports frame accesses and pin transitions to the Replacer and asks it for
// eviction victims when the free list runs out.
type Replacer interface {
	// RecordAccess notifies the policy that the frame was referenced.
	RecordAccess(frameID utils.FrameID)
	// SetEvictable marks whether the frame may be chosen as a victim.
	SetEvictable(frameID utils.FrameID, evictable bool)
	// Evict selects a victim frame, removes it from the policy's bookkeeping
	// and returns it. Returns false if no frame is evictable.
	Evict() (utils.FrameID, bool)
	// Remove drops the frame from the policy's bookkeeping entirely.
	Remove(frameID utils.FrameID)
	// Size returns the number of evictable frames.
	Size() int
}
