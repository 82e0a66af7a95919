package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/orbisretail/loyalty/internal/account"
	"github.com/orbisretail/loyalty/internal/broker"
	"github.com/orbisretail/loyalty/internal/model"
	"github.com/orbisretail/loyalty/internal/store"
)

type fakeStore struct {
	store.Store

	mu          sync.Mutex
	customers   []model.Customer
	drift       map[string]store.ApplyResult
	unpublished map[int64]store.TierChangeRecord
	nextEventID int64
	repaired    []string
	listErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		drift:       map[string]store.ApplyResult{},
		unpublished: map[int64]store.TierChangeRecord{},
	}
}

func (f *fakeStore) CustomerList(_ context.Context, filter store.CustomerFilter) ([]model.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	if filter.Active == nil || !*filter.Active {
		return nil, nil
	}
	return f.customers, nil
}

func (f *fakeStore) RepairTier(_ context.Context, customerID string) (store.ApplyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repaired = append(f.repaired, customerID)
	result, ok := f.drift[customerID]
	if !ok {
		return store.ApplyResult{}, store.ErrNoRows
	}
	if result.TierChanged {
		result.TierEventID = f.recordTierChange(result)
	}
	return result, nil
}

// ApplySale фиксирует смену ступени и неопубликованную запись журнала,
// как постгресовое хранилище
func (f *fakeStore) ApplySale(_ context.Context, customerID string, _ string, _ int64) (store.ApplyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := store.ApplyResult{
		Customer:    model.Customer{ID: customerID, Name: "Ann", Points: 110, Tier: "Silver"},
		PointsAdded: 20,
		OldPoints:   90,
		NewPoints:   110,
		OldTier:     "Bronze",
		NewTier:     "Silver",
		TierChanged: true,
	}
	result.TierEventID = f.recordTierChange(result)
	return result, nil
}

func (f *fakeStore) recordTierChange(result store.ApplyResult) int64 {
	f.nextEventID++
	f.unpublished[f.nextEventID] = store.TierChangeRecord{
		EventID:      f.nextEventID,
		CustomerID:   result.Customer.ID,
		CustomerName: result.Customer.Name,
		OldTier:      result.OldTier,
		NewTier:      result.NewTier,
		Points:       result.NewPoints,
		CreatedAt:    time.Now().UTC(),
	}
	return f.nextEventID
}

func (f *fakeStore) UnpublishedTierChanges(_ context.Context) ([]store.TierChangeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var records []store.TierChangeRecord
	for _, rec := range f.unpublished {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].EventID < records[j].EventID })
	return records, nil
}

func (f *fakeStore) MarkTierChangePublished(_ context.Context, eventID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.unpublished, eventID)
	return nil
}

func (f *fakeStore) pendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.unpublished)
}

// брокер, который всегда отказывает в публикации
type downBroker struct{}

func (downBroker) Publish(context.Context, string, string, any) error { return errors.New("transport down") }
func (downBroker) Subscribe(string, string, broker.Handler) error     { return nil }
func (downBroker) Close(context.Context) error                       { return nil }

func newTestBroker(t *testing.T) *broker.Memory {
	mb := broker.NewMemory(zap.NewNop(), broker.RetryPolicy{
		MaxAttempts: 2,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		mb.Close(ctx)
	})
	return mb
}

func subscribeTierChanges(t *testing.T, mb *broker.Memory) chan model.TierChanged {
	t.Helper()
	published := make(chan model.TierChanged, 4)
	require.NoError(t, mb.Subscribe(model.TopicTierChanged, "test",
		func(_ context.Context, msg broker.Message) error {
			var change model.TierChanged
			require.NoError(t, json.Unmarshal(msg.Data, &change))
			published <- change
			return nil
		}))
	return published
}

// Смена ступени зафиксирована, но публикация после коммита сорвалась:
// сверка обязана доопубликовать событие
func TestSweepRepublishesMissedTierChange(t *testing.T) {
	fs := newFakeStore()
	ctx := context.Background()

	// публикация падает, мутация остается зафиксированной
	accounts := account.NewAccounts(fs, downBroker{}, zap.NewNop())
	result, err := accounts.ApplySale(ctx, "c-1", "s-1", 20000)
	require.NoError(t, err)
	require.True(t, result.TierChanged)
	require.Equal(t, 1, fs.pendingCount())

	mb := newTestBroker(t)
	published := subscribeTierChanges(t, mb)

	r := NewReconciler(fs, mb, time.Minute, zap.NewNop())
	require.NoError(t, r.SweepOnce(ctx))

	select {
	case change := <-published:
		require.Equal(t, "c-1", change.CustomerID)
		require.Equal(t, "Ann", change.CustomerName)
		require.Equal(t, "Bronze", change.OldTier)
		require.Equal(t, "Silver", change.NewTier)
		require.Equal(t, 110, change.Points)
	case <-time.After(time.Second):
		t.Fatal("missed tier change was not re-emitted")
	}
	require.Zero(t, fs.pendingCount())

	// повторный проход ничего не дублирует
	require.NoError(t, r.SweepOnce(ctx))
	select {
	case change := <-published:
		t.Fatalf("unexpected duplicate publish for %s", change.CustomerID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSweepRepairsDriftAndPublishes(t *testing.T) {
	fs := newFakeStore()
	fs.customers = []model.Customer{
		{ID: "c-1", Name: "Ann", Points: 110, Tier: "Bronze"},
		{ID: "c-2", Name: "Bob", Points: 40, Tier: "Bronze"},
	}
	fs.drift = map[string]store.ApplyResult{
		"c-1": {
			Customer:    model.Customer{ID: "c-1", Name: "Ann", Points: 110, Tier: "Silver"},
			OldTier:     "Bronze",
			NewTier:     "Silver",
			NewPoints:   110,
			TierChanged: true,
		},
		"c-2": {OldTier: "Bronze", NewTier: "Bronze", NewPoints: 40},
	}
	mb := newTestBroker(t)
	published := subscribeTierChanges(t, mb)

	r := NewReconciler(fs, mb, time.Minute, zap.NewNop())
	require.NoError(t, r.SweepOnce(context.Background()))
	require.Equal(t, []string{"c-1", "c-2"}, fs.repaired)

	select {
	case change := <-published:
		require.Equal(t, "c-1", change.CustomerID)
		require.Equal(t, "Silver", change.NewTier)
	case <-time.After(time.Second):
		t.Fatal("repaired tier change was not published")
	}
	require.Zero(t, fs.pendingCount())
}

// Отказ брокера не снимает флаг: событие остается на следующий проход
func TestSweepKeepsPendingWhenBrokerDown(t *testing.T) {
	fs := newFakeStore()
	accounts := account.NewAccounts(fs, downBroker{}, zap.NewNop())
	_, err := accounts.ApplySale(context.Background(), "c-1", "s-1", 20000)
	require.NoError(t, err)

	r := NewReconciler(fs, downBroker{}, time.Minute, zap.NewNop())
	require.NoError(t, r.SweepOnce(context.Background()))
	require.Equal(t, 1, fs.pendingCount())
}

func TestSweepContinuesAfterRepairError(t *testing.T) {
	fs := newFakeStore()
	fs.customers = []model.Customer{
		{ID: "c-gone", Name: "Ghost"},
		{ID: "c-2", Name: "Bob", Points: 40},
	}
	fs.drift = map[string]store.ApplyResult{
		"c-2": {OldTier: "Bronze", NewTier: "Bronze", NewPoints: 40},
	}
	mb := newTestBroker(t)

	r := NewReconciler(fs, mb, time.Minute, zap.NewNop())
	require.NoError(t, r.SweepOnce(context.Background()))
	require.Equal(t, []string{"c-gone", "c-2"}, fs.repaired)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	fs := newFakeStore()
	mb := newTestBroker(t)
	r := NewReconciler(fs, mb, time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop")
	}
}
