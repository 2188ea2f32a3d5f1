package events

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	merkletree "github.com/wealdtech/go-merkletree/v2"
	"github.com/wealdtech/go-merkletree/v2/keccak256"
)

// MemorySink is an in-memory audit trail. Events are deep-copied on the way
// in and out so the committed trail cannot be mutated by callers.
type MemorySink struct {
	mu       sync.RWMutex
	trail    []*Event
	sequence uint64
	closed   bool
}

// NewMemorySink creates an empty audit trail.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Stage implements Sink.
func (s *MemorySink) Stage(_ context.Context, ev *Event) (StagedEvent, error) {
	if ev == nil {
		return nil, fmt.Errorf("cannot stage nil event")
	}

	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("event sink is closed")
	}

	return &memoryStagedEvent{sink: s, event: copyEvent(ev)}, nil
}

// Query implements Sink.
func (s *MemorySink) Query(_ context.Context, filter Filter) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("event sink is closed")
	}

	result := make([]*Event, 0)
	for _, ev := range s.trail {
		if filter.Matches(ev) {
			result = append(result, copyEvent(ev))
		}
	}
	return result, nil
}

// Root implements Sink. Leaves are the JSON-serialized events in commit
// order, hashed with keccak256. The root and count come from one snapshot
// under the read lock, so they always describe the same trail state.
func (s *MemorySink) Root(_ context.Context) ([32]byte, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return [32]byte{}, 0, fmt.Errorf("event sink is closed")
	}
	if len(s.trail) == 0 {
		return [32]byte{}, 0, nil
	}

	data := make([][]byte, 0, len(s.trail))
	for _, ev := range s.trail {
		leaf, err := json.Marshal(ev)
		if err != nil {
			return [32]byte{}, 0, fmt.Errorf("failed to serialize event %s: %w", ev.ID, err)
		}
		data = append(data, leaf)
	}

	tree, err := merkletree.NewTree(
		merkletree.WithData(data),
		merkletree.WithHashType(keccak256.New()),
	)
	if err != nil {
		return [32]byte{}, 0, fmt.Errorf("failed to build audit tree: %w", err)
	}

	var root [32]byte
	copy(root[:], tree.Root())
	return root, len(s.trail), nil
}

// Close implements Sink.
func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Len returns the number of committed events.
func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.trail)
}

type memoryStagedEvent struct {
	sink  *MemorySink
	event *Event
	done  bool
}

func (st *memoryStagedEvent) Commit(_ context.Context) error {
	st.sink.mu.Lock()
	defer st.sink.mu.Unlock()

	if st.done {
		return nil
	}
	st.done = true

	if st.sink.closed {
		return fmt.Errorf("event sink is closed")
	}

	st.sink.sequence++
	st.event.Sequence = st.sink.sequence
	st.event.Timestamp = time.Now().UTC()
	st.sink.trail = append(st.sink.trail, st.event)
	return nil
}

func (st *memoryStagedEvent) Discard() {
	st.done = true
}

func copyEvent(ev *Event) *Event {
	cp := *ev
	if ev.Value != nil {
		cp.Value = new(big.Int).Set(ev.Value)
	}
	return &cp
}
