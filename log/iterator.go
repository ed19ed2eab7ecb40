package log

import (
	"encoding/binary"
	"errors"
	"fmt"

	"pagedb/disk"
)

// Iterator provides the ability to move through the records of the log file in
// reverse order.
type Iterator struct {
	diskManager     *disk.Manager
	blockNum        int
	block           []byte
	currentPosition int
	boundary        int
}

// NewIterator creates an iterator for the records in the log file, positioned
// after the last log record.
func NewIterator(diskManager *disk.Manager, blockNum int) (*Iterator, error) {
	iterator := &Iterator{
		diskManager: diskManager,
		blockNum:    blockNum,
		block:       make([]byte, diskManager.PageSize()),
	}
	if err := iterator.moveToBlock(blockNum); err != nil {
		return nil, fmt.Errorf("failed to move to block: %v", err)
	}

	return iterator, nil
}

// HasNext determines if the current log record is the earliest record in the
// log file. Returns true if there is an earlier record.
func (it *Iterator) HasNext() bool {
	return it.currentPosition < it.diskManager.PageSize() || it.blockNum > 0
}

// Next moves to the next log record in the block.
// If there are no more log records in the block, then move to the previous
// block and return the log record from there.
// Returns the next earliest log record.
func (it *Iterator) Next() ([]byte, error) {
	if it.currentPosition == it.diskManager.PageSize() {
		if it.blockNum == 0 {
			return nil, errors.New("no more log records")
		}
		it.blockNum--
		if err := it.moveToBlock(it.blockNum); err != nil {
			return nil, fmt.Errorf("failed to move to block: %v", err)
		}
	}

	recordSize := int(binary.BigEndian.Uint32(it.block[it.currentPosition:]))
	record := make([]byte, recordSize)
	copy(record, it.block[it.currentPosition+recordHeaderSize:])

	it.currentPosition += recordHeaderSize + recordSize
	return record, nil
}

func (it *Iterator) moveToBlock(blockNum int) error {
	if err := it.diskManager.ReadLogBlock(blockNum, it.block); err != nil {
		return fmt.Errorf("failed to read block: %v", err)
	}

	it.boundary = int(binary.BigEndian.Uint32(it.block))
	it.currentPosition = it.boundary
	return nil
}
