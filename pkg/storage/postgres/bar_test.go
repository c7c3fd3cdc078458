package postgres_test

import (
	"context"
	"testing"
	"time"

	"sniperflow/internal/market"
	"sniperflow/pkg/storage/postgres"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleBar(symbol string, bucketStart int64) market.Bar {
	return market.Bar{
		Symbol:      symbol,
		BucketStart: bucketStart,
		OHLCV:       market.OHLCV{Open: 24100, High: 24150, Low: 24090, Close: 24090, Volume: 1001000},
		Snapshot: market.Snapshot{
			OpenInterest: 50200,
			TotalBuyQty:  1200,
			TotalSellQty: 2200,
			Greeks:       market.Greeks{IV: 12.4, Delta: 0.45, Theta: -9, Gamma: 0.02, Vega: 4.9},
			BestBid:      24089,
			BestAsk:      24091,
			Walls:        market.Walls{BuyPrice: 24089, BuyQty: 200, SellPrice: 24091, SellQty: 200},
		},
	}
}

// go test -v --run TestBarRecordRoundTrip
func TestBarRecordRoundTrip(t *testing.T) {
	bar := sampleBar("NIFTY", 1736154900)
	rec := postgres.ToBarRecord(bar)

	assert.Equal(t, time.Date(2025, 1, 6, 9, 15, 0, 0, time.UTC), rec.Timestamp)
	assert.Equal(t, int64(200), rec.MaxSellWallQty)
	assert.Equal(t, bar, rec.Bar())
}

// go test -v --run TestBarCRUD
func TestBarCRUD(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	symbol := "TEST|" + time.Now().Format("150405.000000")
	bucket := market.BucketOf(time.Now().Unix())
	bar := sampleBar(symbol, bucket)

	inserted, err := client.InsertBar(ctx, bar)
	require.NoError(t, err)
	assert.True(t, inserted)

	t.Run("duplicate insert stores one row", func(t *testing.T) {
		dup := bar
		dup.OHLCV.Close = 1
		inserted, err := client.InsertBar(ctx, dup)
		require.NoError(t, err)
		assert.False(t, inserted)

		got, err := client.GetBar(ctx, symbol, bucket)
		require.NoError(t, err)
		assert.Equal(t, 24090.0, got.OHLCV.Close)
	})

	t.Run("list", func(t *testing.T) {
		next := sampleBar(symbol, bucket+60)
		_, err := client.InsertBar(ctx, next)
		require.NoError(t, err)

		bars, err := client.ListBars(ctx, symbol, time.Unix(bucket, 0), time.Unix(bucket+120, 0))
		require.NoError(t, err)
		require.Len(t, bars, 2)
		assert.Equal(t, bucket, bars[0].BucketStart)
		assert.Equal(t, bucket+60, bars[1].BucketStart)
	})

	t.Run("delete before", func(t *testing.T) {
		n, err := client.DeleteBarsBefore(ctx, time.Unix(bucket+120, 0))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, int64(2))

		_, err = client.GetBar(ctx, symbol, bucket)
		assert.Error(t, err)
	})
}
