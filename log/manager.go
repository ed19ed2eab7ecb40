package log

import (
	"encoding/binary"
	"fmt"
	"sync"

	"pagedb/disk"
)

// Manager manages the log file. It provides methods to append log records and
// to iterate over them.
// The log file contains a series of log records, each of which is a sequence
// of bytes. The log records are written backwards within each block.
// The log file is processed in blocks, and the log records are written to the
// most recently allocated block. When a block is full, a new block is
// allocated and used.
// The Manager is thread-safe.
type Manager struct {
	diskManager  *disk.Manager
	logBlock     []byte
	currentBlock int
	latestLSN    int
	lastSavedLSN int
	mu           sync.Mutex
}

// recordHeaderSize is the size of the length word that precedes each record,
// and of the boundary word at the start of each block.
const recordHeaderSize = 4

func NewManager(diskManager *disk.Manager) (*Manager, error) {
	logBlock := make([]byte, diskManager.PageSize())

	logSize, err := diskManager.LogSize()
	if err != nil {
		return nil, fmt.Errorf("failed to get log file length: %v", err)
	}

	var currentBlock int
	if logSize == 0 {
		// If the log file is empty, append a new empty block to it.
		currentBlock, err = appendNewBlock(diskManager, logBlock)
		if err != nil {
			return nil, fmt.Errorf("failed to append a new block: %v", err)
		}
	} else {
		// If the log file is not empty, read the last block into the buffer.
		currentBlock = logSize - 1
		if err := diskManager.ReadLogBlock(currentBlock, logBlock); err != nil {
			return nil, fmt.Errorf("failed to read log block: %v", err)
		}
	}

	return &Manager{
		diskManager:  diskManager,
		logBlock:     logBlock,
		currentBlock: currentBlock,
		latestLSN:    0,
	}, nil
}

// Flush writes the log buffer to disk if the specified LSN has not been saved
// yet.
func (m *Manager) Flush(lsn int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lsn >= m.lastSavedLSN {
		return m.flush()
	}
	return nil
}

// Iterator returns an iterator over the log records, newest first.
func (m *Manager) Iterator() (*Iterator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.flush(); err != nil {
		return nil, fmt.Errorf("failed to flush log: %v", err)
	}
	return NewIterator(m.diskManager, m.currentBlock)
}

// Append adds a record to the log buffer and returns its LSN.
// The beginning of the block contains the location of the last-written record
// (the "boundary"). Storing the records backwards makes it easy to read them
// in reverse order.
func (m *Manager) Append(logRecord []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Get the current boundary
	boundary := int(binary.BigEndian.Uint32(m.logBlock))

	recordSize := len(logRecord)
	bytesNeeded := recordSize + recordHeaderSize
	if bytesNeeded+recordHeaderSize > len(m.logBlock) {
		return 0, fmt.Errorf("log record of %d bytes does not fit in a block", recordSize)
	}
	if boundary-bytesNeeded < recordHeaderSize {
		if err := m.flush(); err != nil {
			return 0, fmt.Errorf("failed to flush log: %v", err)
		}

		var err error
		m.currentBlock, err = appendNewBlock(m.diskManager, m.logBlock)
		if err != nil {
			return 0, fmt.Errorf("failed to append new block: %v", err)
		}

		boundary = int(binary.BigEndian.Uint32(m.logBlock))
	}

	recordPosition := boundary - bytesNeeded

	binary.BigEndian.PutUint32(m.logBlock[recordPosition:], uint32(recordSize))
	copy(m.logBlock[recordPosition+recordHeaderSize:], logRecord)

	binary.BigEndian.PutUint32(m.logBlock, uint32(recordPosition))

	m.latestLSN++
	return m.latestLSN, nil
}

// appendNewBlock extends the log file with a fresh block whose boundary points
// at the end of the block.
func appendNewBlock(diskManager *disk.Manager, logBlock []byte) (int, error) {
	blockNum, err := diskManager.AppendLogBlock()
	if err != nil {
		return 0, fmt.Errorf("failed to append new block: %v", err)
	}

	for i := range logBlock {
		logBlock[i] = 0
	}
	binary.BigEndian.PutUint32(logBlock, uint32(diskManager.PageSize()))

	if err := diskManager.WriteLogBlock(blockNum, logBlock); err != nil {
		return 0, fmt.Errorf("failed to write new block: %v", err)
	}
	return blockNum, nil
}

// flush writes the buffer to the log file. This method is not thread-safe.
func (m *Manager) flush() error {
	if err := m.diskManager.WriteLogBlock(m.currentBlock, m.logBlock); err != nil {
		return fmt.Errorf("failed to write log block: %v", err)
	}
	m.lastSavedLSN = m.latestLSN
	return nil
}
