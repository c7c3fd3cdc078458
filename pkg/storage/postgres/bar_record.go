package postgres

import (
	"time"

	"sniperflow/internal/market"
)

// BarRecord is one closed 1-minute bar as stored in market_candles.
// (timestamp, symbol) is the natural key; inserting it twice is a no-op.
type BarRecord struct {
	Timestamp time.Time `gorm:"column:timestamp;primaryKey;not null"`
	Symbol    string    `gorm:"type:text;primaryKey;not null;index:idx_candles_symbol"`

	Open   float64 `gorm:"type:double precision"`
	High   float64 `gorm:"type:double precision"`
	Low    float64 `gorm:"type:double precision"`
	Close  float64 `gorm:"type:double precision"`
	Volume int64   `gorm:"type:bigint"`

	OpenInterest int64 `gorm:"type:bigint"`
	TotalBuyQty  int64 `gorm:"type:bigint"`
	TotalSellQty int64 `gorm:"type:bigint"`

	IV    float64 `gorm:"column:iv;type:double precision"`
	Delta float64 `gorm:"type:double precision"`
	Theta float64 `gorm:"type:double precision"`
	Gamma float64 `gorm:"type:double precision"`
	Vega  float64 `gorm:"type:double precision"`

	BestBid          float64 `gorm:"type:double precision"`
	BestAsk          float64 `gorm:"type:double precision"`
	MaxBuyWallPrice  float64 `gorm:"type:double precision"`
	MaxBuyWallQty    int64   `gorm:"type:bigint"`
	MaxSellWallPrice float64 `gorm:"type:double precision"`
	MaxSellWallQty   int64   `gorm:"type:bigint"`
}

// TableName overrides the default table name for GORM.
func (BarRecord) TableName() string {
	return "market_candles"
}

// ToBarRecord flattens a bar into its row.
func ToBarRecord(bar market.Bar) *BarRecord {
	s := bar.Snapshot
	return &BarRecord{
		Timestamp:        bar.Time(),
		Symbol:           bar.Symbol,
		Open:             bar.OHLCV.Open,
		High:             bar.OHLCV.High,
		Low:              bar.OHLCV.Low,
		Close:            bar.OHLCV.Close,
		Volume:           bar.OHLCV.Volume,
		OpenInterest:     s.OpenInterest,
		TotalBuyQty:      s.TotalBuyQty,
		TotalSellQty:     s.TotalSellQty,
		IV:               s.Greeks.IV,
		Delta:            s.Greeks.Delta,
		Theta:            s.Greeks.Theta,
		Gamma:            s.Greeks.Gamma,
		Vega:             s.Greeks.Vega,
		BestBid:          s.BestBid,
		BestAsk:          s.BestAsk,
		MaxBuyWallPrice:  s.Walls.BuyPrice,
		MaxBuyWallQty:    s.Walls.BuyQty,
		MaxSellWallPrice: s.Walls.SellPrice,
		MaxSellWallQty:   s.Walls.SellQty,
	}
}

// Bar rebuilds the domain bar from a row.
func (r *BarRecord) Bar() market.Bar {
	return market.Bar{
		Symbol:      r.Symbol,
		BucketStart: r.Timestamp.Unix(),
		OHLCV: market.OHLCV{
			Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, Volume: r.Volume,
		},
		Snapshot: market.Snapshot{
			OpenInterest: r.OpenInterest,
			TotalBuyQty:  r.TotalBuyQty,
			TotalSellQty: r.TotalSellQty,
			Greeks: market.Greeks{
				IV: r.IV, Delta: r.Delta, Theta: r.Theta, Gamma: r.Gamma, Vega: r.Vega,
			},
			BestBid: r.BestBid,
			BestAsk: r.BestAsk,
			Walls: market.Walls{
				BuyPrice:  r.MaxBuyWallPrice,
				BuyQty:    r.MaxBuyWallQty,
				SellPrice: r.MaxSellWallPrice,
				SellQty:   r.MaxSellWallQty,
			},
		},
	}
}
