package market

// Walls records the deepest resting level on each side of the book.
type Walls struct {
	BuyPrice  float64 `json:"max_buy_wall_price"`
	BuyQty    int64   `json:"max_buy_wall_qty"`
	SellPrice float64 `json:"max_sell_wall_price"`
	SellQty   int64   `json:"max_sell_wall_qty"`
}

// ComputeWalls scans the depth levels for the largest bid and ask quantities.
// Ties keep the first (best) level. With no levels both quantities are NoWall.
func ComputeWalls(depth []DepthLevel) Walls {
	w := Walls{BuyQty: NoWall, SellQty: NoWall}
	for _, lvl := range depth {
		if lvl.BidQty > w.BuyQty {
			w.BuyQty = lvl.BidQty
			w.BuyPrice = lvl.BidPrice
		}
		if lvl.AskQty > w.SellQty {
			w.SellQty = lvl.AskQty
			w.SellPrice = lvl.AskPrice
		}
	}
	return w
}

// BestQuote returns the level 0 bid and ask prices, or zeros for an empty book.
func BestQuote(depth []DepthLevel) (bid, ask float64) {
	if len(depth) == 0 {
		return 0, 0
	}
	return depth[0].BidPrice, depth[0].AskPrice
}

// SnapshotOf builds the last-value-wins snapshot carried by a tick.
func SnapshotOf(t NormalizedTick) Snapshot {
	bid, ask := BestQuote(t.Depth)
	return Snapshot{
		OpenInterest: t.OpenInterest,
		TotalBuyQty:  t.TotalBuyQty,
		TotalSellQty: t.TotalSellQty,
		Greeks:       t.Greeks,
		BestBid:      bid,
		BestAsk:      ask,
		Walls:        ComputeWalls(t.Depth),
	}
}
