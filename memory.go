package mplex

import "sync"

// MemoryManager allows a caller to gate how much memory a Multiplex is
// allowed to hold in in-flight buffers. ReserveMemory is consulted once per
// buffer slot when the Multiplex is constructed; ReleaseMemory is called
// once, with the total that was reserved, when the Multiplex shuts down.
type MemoryManager interface {
	// ReserveMemory reserves size bytes at the given priority (255 is
	// highest). It returns an error if the reservation cannot be granted.
	ReserveMemory(size int, prio uint8) error
	// ReleaseMemory releases memory previously reserved with ReserveMemory.
	ReleaseMemory(size int)
}

// nullMemoryManager grants every reservation and is the default when no
// MemoryManager is supplied.
type nullMemoryManager struct{}

func (m *nullMemoryManager) ReserveMemory(size int, prio uint8) error { return nil }
func (m *nullMemoryManager) ReleaseMemory(size int)                   {}

// BoundedMemoryManager is a concrete MemoryManager that caps total
// reserved bytes, rejecting reservations above the limit. It is a simple
// mutex-guarded counter in the style of rclone's transfer accounting
// (rclone's Stats type in accounting.go), adapted here to gate buffer
// memory instead of transfer byte counts.
type BoundedMemoryManager struct {
	mu        sync.Mutex
	limit     int64
	reserved  int64
}

// NewBoundedMemoryManager returns a MemoryManager that refuses reservations
// once limit bytes are outstanding. A non-positive limit disables the
// bound (equivalent to nullMemoryManager).
func NewBoundedMemoryManager(limit int64) *BoundedMemoryManager {
	return &BoundedMemoryManager{limit: limit}
}

func (m *BoundedMemoryManager) ReserveMemory(size int, prio uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.limit > 0 && m.reserved+int64(size) > m.limit {
		return ErrMemoryLimitExceeded
	}
	m.reserved += int64(size)
	return nil
}

func (m *BoundedMemoryManager) ReleaseMemory(size int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reserved -= int64(size)
	if m.reserved < 0 {
		m.reserved = 0
	}
}

// Reserved reports the number of bytes currently reserved.
func (m *BoundedMemoryManager) Reserved() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reserved
}
