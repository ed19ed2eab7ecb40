package disk

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"pagedb/utils"
)

// DefaultPageSize is the page size used when no explicit size is configured.
const DefaultPageSize = 4096

// Manager is the disk manager used by the database. It reads and writes
// fixed-size pages of a single data file, addressed by page id, and manages a
// sibling append-only log file on behalf of the log manager.
// The Manager is thread-safe.
type Manager struct {
	dbFile       string
	pageSize     int
	mu           sync.Mutex
	dataFile     *os.File
	logFile      *os.File
	pagesRead    int
	pagesWritten int
}

// NewManager opens (or creates) the data file at dbFile and its log file at
// dbFile + ".log". pageSize determines the unit of transfer for both files.
func NewManager(dbFile string, pageSize int) (*Manager, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("invalid page size %d", pageSize)
	}

	dataFile, err := os.OpenFile(dbFile, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, fmt.Errorf("cannot open data file %s: %v", dbFile, err)
	}

	logFile, err := os.OpenFile(dbFile+".log", os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		dataFile.Close()
		return nil, fmt.Errorf("cannot open log file %s.log: %v", dbFile, err)
	}

	return &Manager{
		dbFile:   dbFile,
		pageSize: pageSize,
		dataFile: dataFile,
		logFile:  logFile,
	}, nil
}

// ReadPage fills buf with the contents of the specified page. Reading a page
// that has never been written yields zeroes, the contents of a fresh page.
func (m *Manager) ReadPage(pageID utils.PageID, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkArgs(pageID, buf); err != nil {
		return err
	}

	offset := int64(pageID) * int64(m.pageSize)
	n, err := m.dataFile.ReadAt(buf, offset)

	// Handle successful read
	if err == nil && n == len(buf) {
		m.pagesRead++
		return nil
	}

	// Handle EOF case: the page lies beyond the end of the file, so the
	// unwritten tail reads as zeroes.
	if errors.Is(err, io.EOF) {
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}
		m.pagesRead++
		return nil
	}

	if err != nil {
		return fmt.Errorf("cannot read page %d: %v", pageID, err)
	}

	return fmt.Errorf("short read of page %d: expected %d bytes, got %d", pageID, len(buf), n)
}

// WritePage persists buf as the contents of the specified page.
func (m *Manager) WritePage(pageID utils.PageID, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkArgs(pageID, buf); err != nil {
		return err
	}

	offset := int64(pageID) * int64(m.pageSize)
	n, err := m.dataFile.WriteAt(buf, offset)
	if err != nil {
		return fmt.Errorf("cannot write page %d: %v", pageID, err)
	}
	if n != len(buf) {
		return fmt.Errorf("short write of page %d: expected %d bytes, wrote %d", pageID, len(buf), n)
	}

	// Ensure the data is flushed to disk.
	if err := m.dataFile.Sync(); err != nil {
		return fmt.Errorf("cannot sync data file %s: %v", m.dbFile, err)
	}
	m.pagesWritten++
	return nil
}

func (m *Manager) checkArgs(pageID utils.PageID, buf []byte) error {
	if pageID < 0 {
		return fmt.Errorf("invalid page id %d", pageID)
	}
	if len(buf) != m.pageSize {
		return fmt.Errorf("buffer size %d does not match page size %d", len(buf), m.pageSize)
	}
	return nil
}

// Size returns the number of pages currently in the data file.
func (m *Manager) Size() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fileInfo, err := m.dataFile.Stat()
	if err != nil {
		return 0, fmt.Errorf("cannot stat %s: %v", m.dbFile, err)
	}
	return int(fileInfo.Size() / int64(m.pageSize)), nil
}

// AppendLogBlock extends the log file with one zeroed block and returns its
// block number.
func (m *Manager) AppendLogBlock() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	blockNum, err := m.logSize()
	if err != nil {
		return 0, err
	}

	b := make([]byte, m.pageSize)
	if err := m.writeLogBlock(blockNum, b); err != nil {
		return 0, err
	}
	return blockNum, nil
}

// WriteLogBlock persists buf as the contents of the specified log block.
func (m *Manager) WriteLogBlock(blockNum int, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(buf) != m.pageSize {
		return fmt.Errorf("buffer size %d does not match page size %d", len(buf), m.pageSize)
	}
	return m.writeLogBlock(blockNum, buf)
}

func (m *Manager) writeLogBlock(blockNum int, buf []byte) error {
	offset := int64(blockNum) * int64(m.pageSize)
	n, err := m.logFile.WriteAt(buf, offset)
	if err != nil {
		return fmt.Errorf("cannot write log block %d: %v", blockNum, err)
	}
	if n != len(buf) {
		return fmt.Errorf("short write of log block %d: expected %d bytes, wrote %d", blockNum, len(buf), n)
	}

	if err := m.logFile.Sync(); err != nil {
		return fmt.Errorf("cannot sync log file %s.log: %v", m.dbFile, err)
	}
	return nil
}

// ReadLogBlock fills buf with the contents of the specified log block.
func (m *Manager) ReadLogBlock(blockNum int, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(buf) != m.pageSize {
		return fmt.Errorf("buffer size %d does not match page size %d", len(buf), m.pageSize)
	}

	offset := int64(blockNum) * int64(m.pageSize)
	n, err := m.logFile.ReadAt(buf, offset)
	if err == nil && n == len(buf) {
		return nil
	}
	if errors.Is(err, io.EOF) {
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}
		return nil
	}
	return fmt.Errorf("cannot read log block %d: %v", blockNum, err)
}

// LogSize returns the number of blocks in the log file.
func (m *Manager) LogSize() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.logSize()
}

func (m *Manager) logSize() (int, error) {
	fileInfo, err := m.logFile.Stat()
	if err != nil {
		return 0, fmt.Errorf("cannot stat %s.log: %v", m.dbFile, err)
	}
	return int(fileInfo.Size() / int64(m.pageSize)), nil
}

// Close closes the underlying files. The manager must not be used afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.dataFile.Close(); err != nil {
		return fmt.Errorf("cannot close data file %s: %v", m.dbFile, err)
	}
	if err := m.logFile.Close(); err != nil {
		return fmt.Errorf("cannot close log file %s.log: %v", m.dbFile, err)
	}
	return nil
}

// PageSize returns the page size used by the Manager.
func (m *Manager) PageSize() int {
	return m.pageSize
}

// GetPagesRead returns the number of page reads served so far.
func (m *Manager) GetPagesRead() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.pagesRead
}

// GetPagesWritten returns the number of page writes performed so far.
func (m *Manager) GetPagesWritten() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.pagesWritten
}
