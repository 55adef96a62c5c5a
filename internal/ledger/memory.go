package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/fiscalbridge/internal/fiscal"
)

type seqKey struct {
	class fiscal.Class
	seq   int64
}

type docKey struct {
	class fiscal.Class
	doc   string
}

// MemoryStore is a Store kept in process memory, used by tests and dry runs.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]Entry
	order   []uuid.UUID
	bySeq   map[seqKey]uuid.UUID
	active  map[docKey]uuid.UUID
	now     func() time.Time
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[uuid.UUID]Entry),
		bySeq:   make(map[seqKey]uuid.UUID),
		active:  make(map[docKey]uuid.UUID),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) MaxSequence(ctx context.Context, class fiscal.Class) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var max int64
	for k := range s.bySeq {
		if k.class == class && k.seq > max {
			max = k.seq
		}
	}
	return max, nil
}

func (s *MemoryStore) Insert(ctx context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sk := seqKey{class: entry.Class, seq: entry.SequenceNo}
	if _, taken := s.bySeq[sk]; taken {
		return ErrSequenceTaken
	}
	dk := docKey{class: entry.Class, doc: entry.SourceDocumentID}
	if entry.Supersedes != nil {
		prior, ok := s.entries[*entry.Supersedes]
		if !ok {
			return ErrNotFound
		}
		if !prior.Active() {
			return ErrAlreadySuperseded
		}
		if s.active[dk] != prior.ID {
			return ErrActiveEntryExists
		}
	} else if _, exists := s.active[dk]; exists {
		return ErrActiveEntryExists
	}

	now := s.now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = entry.CreatedAt
	entry.Payload = append([]byte(nil), entry.Payload...)

	if entry.Supersedes != nil {
		prior := s.entries[*entry.Supersedes]
		id := entry.ID
		prior.SupersededBy = &id
		prior.CancelledAt = &now
		prior.UpdatedAt = now
		s.entries[prior.ID] = prior
	}
	s.entries[entry.ID] = entry
	s.order = append(s.order, entry.ID)
	s.bySeq[sk] = entry.ID
	s.active[dk] = entry.ID
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return clone(e), nil
}

func (s *MemoryStore) Active(ctx context.Context, class fiscal.Class, documentID string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.active[docKey{class: class, doc: documentID}]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return clone(s.entries[id]), nil
}

func (s *MemoryStore) History(ctx context.Context, class fiscal.Class, documentID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, id := range s.order {
		e := s.entries[id]
		if e.Class == class && e.SourceDocumentID == documentID {
			out = append(out, clone(e))
		}
	}
	return out, nil
}

func (s *MemoryStore) Record(ctx context.Context, id uuid.UUID, update Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	if e.Acknowledged() {
		return ErrAcknowledged
	}
	at := update.At
	if at.IsZero() {
		at = s.now()
	}
	e.Status = update.Status
	e.ResultCode = update.ResultCode
	e.ErrorDetail = update.ErrorDetail
	e.GatewayFields = append([]byte(nil), update.GatewayFields...)
	e.Terminal = update.Terminal
	e.Attempts++
	e.UpdatedAt = at
	if update.Status == StatusAcknowledged {
		e.AcknowledgedAt = &at
	}
	s.entries[id] = e
	return nil
}

func (s *MemoryStore) ListRetryable(ctx context.Context, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, id := range s.order {
		if e := s.entries[id]; e.Retryable() {
			out = append(out, clone(e))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Class != out[j].Class {
			return classOrder(out[i].Class) < classOrder(out[j].Class)
		}
		return out[i].SequenceNo < out[j].SequenceNo
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) IncrementPrintCount(ctx context.Context, id uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return 0, ErrNotFound
	}
	e.PrintCount++
	s.entries[id] = e
	return e.PrintCount, nil
}

func clone(e Entry) Entry {
	e.Payload = append([]byte(nil), e.Payload...)
	if e.GatewayFields != nil {
		e.GatewayFields = append([]byte(nil), e.GatewayFields...)
	}
	return e
}

var _ Store = (*MemoryStore)(nil)
