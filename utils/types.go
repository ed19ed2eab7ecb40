package utils

// PageID identifies a logical page on disk. Page ids are minted by the buffer
// pool's monotonic allocator and are never reused while the page is resident.
type PageID int32

// InvalidPageID marks a frame that currently holds no page.
const InvalidPageID PageID = -1

// FrameID indexes a slot in the buffer pool's frame array. Valid frame ids lie
// in [0, poolSize).
type FrameID int
