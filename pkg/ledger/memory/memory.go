package memory

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/recibo-network/recibo-go/pkg/ledger"
)

// MemoryLedger is an in-memory implementation of ledger.Ledger.
// All state is lost when the process exits, so it is intended for tests and
// local development. Thread-safe via sync.RWMutex.
type MemoryLedger struct {
	mu sync.RWMutex

	// consumed holds durably burned (signer, nonce) pairs.
	consumed map[string]bool

	// reserved holds pairs staged by in-flight reservations.
	reserved map[string]bool

	closed bool
}

// NewMemoryLedger creates an empty in-memory authorization ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		consumed: make(map[string]bool),
		reserved: make(map[string]bool),
	}
}

// IsConsumed reports whether the pair has been committed.
func (m *MemoryLedger) IsConsumed(_ context.Context, signer common.Address, nonce [32]byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false, ledger.ErrClosed
	}

	return m.consumed[ledger.Key(signer, nonce)], nil
}

// Reserve stages consumption of the pair.
func (m *MemoryLedger) Reserve(_ context.Context, signer common.Address, nonce [32]byte) (ledger.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ledger.ErrClosed
	}

	key := ledger.Key(signer, nonce)
	if m.consumed[key] || m.reserved[key] {
		return nil, ledger.ErrAuthorizationAlreadyUsed
	}
	m.reserved[key] = true

	return &memoryReservation{ledger: m, key: key}, nil
}

// Close shuts down the ledger.
func (m *MemoryLedger) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// HealthCheck verifies the ledger is operational.
func (m *MemoryLedger) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ledger.ErrClosed
	}
	return nil
}

type memoryReservation struct {
	ledger *MemoryLedger
	key    string
	done   bool
}

func (r *memoryReservation) Commit(_ context.Context) error {
	r.ledger.mu.Lock()
	defer r.ledger.mu.Unlock()

	if r.done {
		return nil
	}
	r.done = true

	delete(r.ledger.reserved, r.key)
	if r.ledger.closed {
		return ledger.ErrClosed
	}
	r.ledger.consumed[r.key] = true
	return nil
}

func (r *memoryReservation) Rollback(_ context.Context) {
	r.ledger.mu.Lock()
	defer r.ledger.mu.Unlock()

	if r.done {
		return
	}
	r.done = true

	delete(r.ledger.reserved, r.key)
}
