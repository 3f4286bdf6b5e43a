package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChannelSales aggregates orders of one channel type. Orders whose channel
// was deleted are grouped under an empty type.
type ChannelSales struct {
	ChannelType ChannelType
	Revenue     decimal.Decimal
	Orders      int
}

// SalesTotals covers orders with From <= order_date < To.
type SalesTotals struct {
	From, To  time.Time
	Revenue   decimal.Decimal
	Orders    int
	ByChannel []ChannelSales // revenue descending
}

func (t SalesTotals) AverageOrderValue() decimal.Decimal {
	if t.Orders == 0 {
		return decimal.Zero
	}
	return t.Revenue.Div(decimal.NewFromInt(int64(t.Orders))).Round(2)
}

// totals folds per-channel rows into a SalesTotals.
func totals(from, to time.Time, rows []ChannelSales) SalesTotals {
	t := SalesTotals{From: from, To: to, Revenue: decimal.Zero, ByChannel: rows}
	for _, r := range rows {
		t.Revenue = t.Revenue.Add(r.Revenue)
		t.Orders += r.Orders
	}
	return t
}
