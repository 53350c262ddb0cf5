package cachestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/market-gateway/internal/kv"
)

type brokenKV struct{ kv.Store }

func (brokenKV) Get(context.Context, string) (string, bool, error) {
	return "", false, kv.ErrUnavailable
}

func (brokenKV) Set(context.Context, string, string, time.Duration) error {
	return errors.New("connection refused")
}

type record struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

func TestQuotesKeyOrderIndependent(t *testing.T) {
	a := QuotesKey([]string{"VALE3", "PETR4"})
	b := QuotesKey([]string{"PETR4", "VALE3"})
	assert.Equal(t, a, b)
	assert.Equal(t, "quotes:PETR4,VALE3", a)

	assert.Equal(t, a, QuotesKey([]string{" petr4", "VALE3", "PETR4", ""}))
	assert.Equal(t, QuotesKey([]string{"B", "A", "C"}), QuotesKey([]string{"C", "B", "A"}))
}

func TestHistoricalKey(t *testing.T) {
	assert.Equal(t, "historical:PETR4:1mo", HistoricalKey("petr4", "1MO"))
}

func TestStoreSetGetAge(t *testing.T) {
	now := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := New(kv.NewMemoryStore(time.Minute), WithClock(clock), WithName("memory"))
	ctx := context.Background()

	store.Set(ctx, "quotes:PETR4", []record{{Symbol: "PETR4", Price: 37.5}}, time.Minute)

	now = now.Add(30*time.Second + 700*time.Millisecond)
	var got []record
	age, ok := store.Get(ctx, "quotes:PETR4", &got)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, age)
	assert.Equal(t, []record{{Symbol: "PETR4", Price: 37.5}}, got)
}

func TestStoreGetAbsent(t *testing.T) {
	store := New(kv.NewMemoryStore(time.Minute))
	var got []record
	_, ok := store.Get(context.Background(), "missing", &got)
	assert.False(t, ok)
}

func TestStoreDegradesWhenBackendDown(t *testing.T) {
	store := New(brokenKV{})
	ctx := context.Background()

	assert.NotPanics(t, func() { store.Set(ctx, "k", record{}, time.Minute) })

	var got record
	_, ok := store.Get(ctx, "k", &got)
	assert.False(t, ok)
}

func TestStoreDisabled(t *testing.T) {
	store := New(nil)
	assert.False(t, store.Enabled())
	store.Set(context.Background(), "k", record{}, time.Minute)
	var got record
	_, ok := store.Get(context.Background(), "k", &got)
	assert.False(t, ok)
}

func TestStoreRejectsMalformedEntries(t *testing.T) {
	backend := kv.NewMemoryStore(time.Minute)
	store := New(backend)
	ctx := context.Background()

	require.NoError(t, backend.Set(ctx, "garbage", "not json", 0))
	require.NoError(t, backend.Set(ctx, "no-ts", `{"data":{"symbol":"X"}}`, 0))
	require.NoError(t, backend.Set(ctx, "wrong-shape", `{"data":"text","timestamp":1700000000000}`, 0))

	var got record
	for _, key := range []string{"garbage", "no-ts", "wrong-shape"} {
		_, ok := store.Get(ctx, key, &got)
		assert.False(t, ok, key)
	}
}

func TestEntryAgeNeverNegative(t *testing.T) {
	now := time.Now()
	e := Entry{Timestamp: now.Add(time.Minute).UnixMilli()}
	assert.Equal(t, time.Duration(0), e.Age(now))
}
