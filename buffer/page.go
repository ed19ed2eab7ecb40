package buffer

import "pagedb/utils"

// Page represents an individual frame of the buffer pool. A Page wraps a
// fixed-size buffer holding one disk page's bytes and stores information about
// its status: which logical page currently resides here, the number of times
// the page has been pinned, and whether its contents have been modified since
// they were last written to disk.
//
// The metadata fields are mutated only by the buffer pool Manager. Callers
// holding a pin may mutate the buffer returned by Contents and must report the
// modification through Manager.UnpinPage. A Page handle is valid only while
// the caller holds a pin.
type Page struct {
	id       utils.PageID
	pinCount int
	isDirty  bool
	data     []byte
}

func newPage(pageSize int) *Page {
	return &Page{
		id:   utils.InvalidPageID,
		data: make([]byte, pageSize),
	}
}

// Contents returns the byte buffer maintained by the Page.
func (p *Page) Contents() []byte {
	return p.data
}

// ID returns the id of the page resident in this frame, or InvalidPageID if
// the frame is empty.
func (p *Page) ID() utils.PageID {
	return p.id
}

// PinCount returns the number of holders currently requiring the page
// resident.
func (p *Page) PinCount() int {
	return p.pinCount
}

// IsDirty returns true if the in-memory contents differ from disk.
func (p *Page) IsDirty() bool {
	return p.isDirty
}

// reset returns the frame to its empty state.
func (p *Page) reset() {
	p.id = utils.InvalidPageID
	p.pinCount = 0
	p.isDirty = false
	for i := range p.data {
		p.data[i] = 0
	}
}
