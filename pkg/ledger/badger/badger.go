package badger

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/recibo-network/recibo-go/pkg/ledger"
)

// Key prefixes for namespacing
const (
	keyPrefixAuthorization = "auth:"
	keySchemaVersion       = "metadata:schema_version"
	currentSchemaVersion   = "v1"
)

// consumedMarker is the stored value for a burned pair. The key's presence is
// what matters; the value aids debugging.
var consumedMarker = []byte("consumed")

// BadgerLedger is a durable, disk-based implementation of ledger.Ledger with
// fsync-on-write, suitable for single-node production deployments.
//
// Reservations are tracked in process memory: the ledger is write-exclusive
// to its owning process, and an unresolved reservation must not survive a
// crash (the pair was never durably consumed, so the operation it guarded
// never settled).
type BadgerLedger struct {
	db       *badgerdb.DB
	logger   *zap.Logger
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup

	mu       sync.Mutex
	reserved map[string]bool
	closed   bool
}

// NewBadgerLedger opens (or creates) a Badger-backed authorization ledger at
// dataPath. SyncWrites is enabled so a committed consumption survives a crash.
func NewBadgerLedger(dataPath string, logger *zap.Logger) (*BadgerLedger, error) {
	absPath, err := filepath.Abs(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	opts := badgerdb.DefaultOptions(absPath)
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.SyncWrites = true
	opts.CompactL0OnClose = true
	opts.NumVersionsToKeep = 1

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", absPath, err)
	}

	bl := &BadgerLedger{
		db:       db,
		logger:   logger,
		reserved: make(map[string]bool),
	}

	if err := bl.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bl.gcCancel = cancel
	bl.gcWg.Add(1)
	go bl.runGC(ctx)

	logger.Sugar().Infow("Badger authorization ledger initialized", "path", absPath)

	return bl, nil
}

// initSchema initializes or validates the schema version.
func (b *BadgerLedger) initSchema() error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keySchemaVersion))
		if err == badgerdb.ErrKeyNotFound {
			return txn.Set([]byte(keySchemaVersion), []byte(currentSchemaVersion))
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		var existingVersion string
		err = item.Value(func(val []byte) error {
			existingVersion = string(val)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to read schema version value: %w", err)
		}

		if existingVersion != currentSchemaVersion {
			return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
		}

		return nil
	})
}

// runGC runs periodic value-log garbage collection in the background.
func (b *BadgerLedger) runGC(ctx context.Context) {
	defer b.gcWg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := b.db.RunValueLogGC(0.5)
			if err != nil && err != badgerdb.ErrNoRewrite {
				b.logger.Sugar().Warnw("Badger GC error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func storageKey(signer common.Address, nonce [32]byte) []byte {
	return []byte(keyPrefixAuthorization + ledger.Key(signer, nonce))
}

// IsConsumed reports whether the pair has been durably consumed.
func (b *BadgerLedger) IsConsumed(_ context.Context, signer common.Address, nonce [32]byte) (bool, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return false, ledger.ErrClosed
	}

	consumed := false
	err := b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(storageKey(signer, nonce))
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		consumed = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to read authorization state: %w", err)
	}
	return consumed, nil
}

// Reserve stages consumption of the pair.
func (b *BadgerLedger) Reserve(ctx context.Context, signer common.Address, nonce [32]byte) (ledger.Reservation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ledger.ErrClosed
	}

	key := ledger.Key(signer, nonce)
	if b.reserved[key] {
		return nil, ledger.ErrAuthorizationAlreadyUsed
	}

	// Check durable state under the reservation lock so two competing
	// submissions for the same pair are strictly ordered.
	var consumed bool
	err := b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(storageKey(signer, nonce))
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		consumed = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read authorization state: %w", err)
	}
	if consumed {
		return nil, ledger.ErrAuthorizationAlreadyUsed
	}

	b.reserved[key] = true
	return &badgerReservation{
		ledger: b,
		key:    key,
		dbKey:  storageKey(signer, nonce),
	}, nil
}

// Close shuts down the ledger, stopping background GC first.
func (b *BadgerLedger) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	if b.gcCancel != nil {
		b.gcCancel()
		b.gcWg.Wait()
	}

	return b.db.Close()
}

// HealthCheck verifies the database is readable.
func (b *BadgerLedger) HealthCheck() error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ledger.ErrClosed
	}

	return b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get([]byte(keySchemaVersion))
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

type badgerReservation struct {
	ledger *BadgerLedger
	key    string
	dbKey  []byte
	done   bool
}

func (r *badgerReservation) Commit(_ context.Context) error {
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

	err := r.ledger.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(r.dbKey, consumedMarker)
	})
	if err != nil {
		return fmt.Errorf("failed to persist authorization consumption: %w", err)
	}
	return nil
}

func (r *badgerReservation) Rollback(_ context.Context) {
	r.ledger.mu.Lock()
	defer r.ledger.mu.Unlock()

	if r.done {
		return
	}
	r.done = true
	delete(r.ledger.reserved, r.key)
}
