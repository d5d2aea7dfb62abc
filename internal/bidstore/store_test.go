package bidstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/matchbridge/internal/model"
)

func testBid(t *testing.T, top float64) model.AggregatedBid {
	t.Helper()
	basis := model.MarketBasis{
		Commodity:    "electricity",
		Currency:     "EUR",
		MinimumPrice: decimal.Zero,
		MaximumPrice: decimal.NewFromInt(1),
		PriceSteps:   3,
		Significance: 2,
	}
	bid, err := model.NewBid(basis, []float64{top, 0, -top})
	require.NoError(t, err)
	return model.NewAggregatedBid(bid, nil)
}

func TestStore_SaveRetrieve(t *testing.T) {
	s := New(DefaultConfig(), nil)
	sentAt := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	bid := testBid(t, 7)

	require.NoError(t, s.Save(7, bid, sentAt))
	assert.Equal(t, 1, s.Len())

	rec, ok := s.Retrieve(7)
	require.True(t, ok)
	assert.Equal(t, int64(7), rec.Seq)
	assert.Equal(t, bid, rec.Bid)
	assert.Equal(t, sentAt, rec.SentAt)

	_, ok = s.Retrieve(7)
	assert.False(t, ok, "a record is matched at most once")
	assert.Equal(t, 0, s.Len())
}

func TestStore_RetrieveUnknown(t *testing.T) {
	s := New(DefaultConfig(), nil)
	_, ok := s.Retrieve(99)
	assert.False(t, ok)
}

func TestStore_SaveDuplicate(t *testing.T) {
	s := New(DefaultConfig(), nil)
	now := time.Now()

	require.NoError(t, s.Save(1, testBid(t, 1), now))
	err := s.Save(1, testBid(t, 2), now)
	assert.ErrorIs(t, err, ErrDuplicateSequence)

	rec, ok := s.Retrieve(1)
	require.True(t, ok)
	assert.Equal(t, float64(1), rec.Bid.MaximumDemand(), "duplicate save must not overwrite")
}

func TestStore_Sweep(t *testing.T) {
	s := New(Config{MaxAge: time.Minute, SweepInterval: time.Hour}, nil)
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	var purgedTotal int
	s.OnSweep = func(n int) { purgedTotal += n }

	require.NoError(t, s.Save(1, testBid(t, 1), now.Add(-2*time.Minute)))
	require.NoError(t, s.Save(2, testBid(t, 1), now.Add(-61*time.Second)))
	require.NoError(t, s.Save(3, testBid(t, 1), now.Add(-30*time.Second)))
	require.NoError(t, s.Save(4, testBid(t, 1), now))

	assert.Equal(t, 2, s.Sweep(now))
	assert.Equal(t, 2, purgedTotal)
	assert.Equal(t, 2, s.Len())

	_, ok := s.Retrieve(3)
	assert.True(t, ok)
	_, ok = s.Retrieve(1)
	assert.False(t, ok)

	assert.Equal(t, 0, s.Sweep(now))
	assert.Equal(t, 2, purgedTotal, "empty sweeps do not report")
}

func TestStore_SweepLoop(t *testing.T) {
	s := New(Config{MaxAge: time.Minute, SweepInterval: 10 * time.Millisecond}, nil)
	s.now = func() time.Time { return time.Now().Add(time.Hour) }

	var swept atomic.Int64
	s.OnSweep = func(n int) { swept.Add(int64(n)) }

	require.NoError(t, s.Save(1, testBid(t, 1), time.Now()))
	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool { return swept.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, s.Len())

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(stopCtx))
}

func TestStore_Concurrent(t *testing.T) {
	s := New(DefaultConfig(), nil)
	bid := testBid(t, 1)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				seq := int64(w*100 + i + 1)
				assert.NoError(t, s.Save(seq, bid, time.Now()))
				_, ok := s.Retrieve(seq)
				assert.True(t, ok)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 0, s.Len())
}
