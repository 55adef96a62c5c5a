package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fiscalbridge/internal/fiscal"
)

func renderSeq(seq int64) ([]byte, error) {
	return []byte(fmt.Sprintf(`{"invcNo":%d}`, seq)), nil
}

func TestAllocatorAppendAssignsNextSequence(t *testing.T) {
	ctx := context.Background()
	alloc := NewAllocator(NewMemoryStore())

	next, err := alloc.Next(ctx, fiscal.ClassSale)
	require.NoError(t, err)
	require.EqualValues(t, 1, next)

	first, err := alloc.Append(ctx, Draft{Class: fiscal.ClassSale, SourceDocumentID: "SINV-1", Render: renderSeq})
	require.NoError(t, err)
	require.EqualValues(t, 1, first.SequenceNo)
	require.Equal(t, StatusPending, first.Status)
	require.JSONEq(t, `{"invcNo":1}`, string(first.Payload))

	second, err := alloc.Append(ctx, Draft{Class: fiscal.ClassSale, SourceDocumentID: "SINV-2", Render: renderSeq})
	require.NoError(t, err)
	require.EqualValues(t, 2, second.SequenceNo)

	other, err := alloc.Append(ctx, Draft{Class: fiscal.ClassPurchase, SourceDocumentID: "PINV-1", Render: renderSeq})
	require.NoError(t, err)
	require.EqualValues(t, 1, other.SequenceNo)
}

// racingStore lets a competing writer take the next sequence right before
// the first insert.
type racingStore struct {
	*MemoryStore
	once sync.Once
}

func (s *racingStore) Insert(ctx context.Context, entry Entry) error {
	s.once.Do(func() {
		rival := entry
		rival.ID = uuid.New()
		rival.SourceDocumentID = "RIVAL"
		_ = s.MemoryStore.Insert(ctx, rival)
	})
	return s.MemoryStore.Insert(ctx, entry)
}

func TestAllocatorRetriesAfterLosingRace(t *testing.T) {
	ctx := context.Background()
	store := &racingStore{MemoryStore: NewMemoryStore()}
	var conflicts int
	alloc := NewAllocator(store, WithConflictHook(func(fiscal.Class) { conflicts++ }))

	var rendered []int64
	entry, err := alloc.Append(ctx, Draft{
		Class:            fiscal.ClassSale,
		SourceDocumentID: "SINV-1",
		Render: func(seq int64) ([]byte, error) {
			rendered = append(rendered, seq)
			return renderSeq(seq)
		},
	})
	require.NoError(t, err)
	require.EqualValues(t, 2, entry.SequenceNo)
	require.Equal(t, []int64{1, 2}, rendered)
	require.Equal(t, 1, conflicts)
	require.JSONEq(t, `{"invcNo":2}`, string(entry.Payload))
}

type takenStore struct{ *MemoryStore }

func (takenStore) Insert(context.Context, Entry) error { return ErrSequenceTaken }

func TestAllocatorGivesUpUnderContention(t *testing.T) {
	alloc := NewAllocator(takenStore{NewMemoryStore()}, WithConflictRetries(3))
	_, err := alloc.Append(context.Background(), Draft{Class: fiscal.ClassSale, SourceDocumentID: "SINV-1", Render: renderSeq})
	require.ErrorIs(t, err, ErrSequenceContention)
}

func TestAllocatorRenderFailureStoresNothing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	alloc := NewAllocator(store)
	boom := errors.New("boom")
	_, err := alloc.Append(ctx, Draft{Class: fiscal.ClassSale, SourceDocumentID: "SINV-1", Render: func(int64) ([]byte, error) { return nil, boom }})
	require.ErrorIs(t, err, boom)

	max, err := store.MaxSequence(ctx, fiscal.ClassSale)
	require.NoError(t, err)
	require.Zero(t, max)

	_, err = alloc.Append(ctx, Draft{Class: "refund", SourceDocumentID: "X", Render: renderSeq})
	require.Error(t, err)
}

func TestAllocatorConcurrentAppendsHaveNoGaps(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	alloc := NewAllocator(store, WithConflictRetries(100))

	const workers = 20
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seqs []int64
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := alloc.Append(ctx, Draft{Class: fiscal.ClassSale, SourceDocumentID: fmt.Sprintf("SINV-%d", i), Render: renderSeq})
			require.NoError(t, err)
			mu.Lock()
			seqs = append(seqs, e.SequenceNo)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for i, seq := range seqs {
		require.EqualValues(t, i+1, seq)
	}
}

func TestAllocatorSupersedeKeepsChain(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	alloc := NewAllocator(store)

	first, err := alloc.Append(ctx, Draft{Class: fiscal.ClassSale, SourceDocumentID: "SINV-1", Render: renderSeq})
	require.NoError(t, err)
	second, err := alloc.Append(ctx, Draft{Class: fiscal.ClassSale, SourceDocumentID: "SINV-1", SourceRevision: 1, Supersedes: &first.ID, Render: renderSeq})
	require.NoError(t, err)
	require.EqualValues(t, 2, second.SequenceNo)

	prior, err := store.Get(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, second.ID, *prior.SupersededBy)
}
