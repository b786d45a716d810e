package cadiscovery

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetEvent is a newly created on-chain asset observed by either discovery
// path, normalized to one shape before matching.
type AssetEvent struct {
	Name      string          `json:"name"`
	Symbol    string          `json:"symbol"`
	Address   string          `json:"address"`
	CreatedAt time.Time       `json:"created_at"`
	MarketCap decimal.Decimal `json:"market_cap"`
}

// Age returns how long ago the asset was created.
func (a AssetEvent) Age(now time.Time) time.Duration {
	return now.Sub(a.CreatedAt)
}
