package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/fiscalbridge/internal/fiscal"
)

// DefaultConflictRetries bounds how often Append re-reads the sequence after
// losing an insert race.
const DefaultConflictRetries = 10

// Allocator hands out per-class sequence numbers and appends entries. A
// number is consumed once an entry holding it is stored, whatever the
// outcome of the send.
type Allocator struct {
	store     Store
	locker    Locker
	lockScope string
	retries   int
	now       func() time.Time
	newID     func() uuid.UUID
	onRetry   func(fiscal.Class)
}

// AllocatorOption customises an Allocator.
type AllocatorOption func(*Allocator)

// WithLocker serialises allocation through l. scope namespaces the lock
// keys, typically the tenant key.
func WithLocker(l Locker, scope string) AllocatorOption {
	return func(a *Allocator) {
		if l != nil {
			a.locker = l
			a.lockScope = scope
		}
	}
}

// WithConflictRetries overrides DefaultConflictRetries.
func WithConflictRetries(n int) AllocatorOption {
	return func(a *Allocator) {
		if n > 0 {
			a.retries = n
		}
	}
}

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) AllocatorOption {
	return func(a *Allocator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithConflictHook is called every time an insert loses a sequence race.
func WithConflictHook(fn func(fiscal.Class)) AllocatorOption {
	return func(a *Allocator) { a.onRetry = fn }
}

// NewAllocator constructs an allocator over store.
func NewAllocator(store Store, opts ...AllocatorOption) *Allocator {
	a := &Allocator{
		store:   store,
		locker:  NoopLocker{},
		retries: DefaultConflictRetries,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.New,
		onRetry: func(fiscal.Class) {},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Store returns the underlying store.
func (a *Allocator) Store() Store {
	return a.store
}

// Next returns the number the next entry of class would receive. It does
// not reserve it.
func (a *Allocator) Next(ctx context.Context, class fiscal.Class) (int64, error) {
	max, err := a.store.MaxSequence(ctx, class)
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

// Append allocates the next sequence for d.Class, renders the payload with
// it and stores a pending entry. Losing the insert race re-reads the
// maximum and renders again.
func (a *Allocator) Append(ctx context.Context, d Draft) (Entry, error) {
	if !d.Class.Valid() {
		return Entry{}, fmt.Errorf("ledger: unknown class %q", d.Class)
	}
	if d.Render == nil {
		return Entry{}, errors.New("ledger: draft has no renderer")
	}
	release, err := a.locker.Acquire(ctx, a.lockKey(d.Class))
	if err != nil {
		return Entry{}, err
	}
	defer release(context.WithoutCancel(ctx))

	for attempt := 0; attempt <= a.retries; attempt++ {
		seq, err := a.Next(ctx, d.Class)
		if err != nil {
			return Entry{}, err
		}
		payload, err := d.Render(seq)
		if err != nil {
			return Entry{}, err
		}
		entry := Entry{
			ID:               a.newID(),
			Class:            d.Class,
			SourceDocumentID: d.SourceDocumentID,
			SourceRevision:   d.SourceRevision,
			SequenceNo:       seq,
			Payload:          payload,
			Status:           StatusPending,
			Supersedes:       d.Supersedes,
			CreatedAt:        a.now(),
		}
		err = a.store.Insert(ctx, entry)
		if err == nil {
			entry.UpdatedAt = entry.CreatedAt
			return entry, nil
		}
		if !errors.Is(err, ErrSequenceTaken) {
			return Entry{}, err
		}
		a.onRetry(d.Class)
		if err := ctx.Err(); err != nil {
			return Entry{}, err
		}
	}
	return Entry{}, fmt.Errorf("%w: %s after %d attempts", ErrSequenceContention, d.Class, a.retries+1)
}

func (a *Allocator) lockKey(class fiscal.Class) string {
	if a.lockScope == "" {
		return fmt.Sprintf("fiscal:%s:seq", class)
	}
	return fmt.Sprintf("fiscal:%s:%s:seq", a.lockScope, class)
}
