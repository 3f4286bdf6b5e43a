// Package analytics computes dashboard metrics from the local catalog.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-channel-sync/internal/catalog"
)

var ErrInvalidRange = errors.New("range must be one of 7d, 30d, 90d, 1y")

const DefaultRange = "30d"

var ranges = map[string]time.Duration{
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
	"90d": 90 * 24 * time.Hour,
	"1y":  365 * 24 * time.Hour,
}

// ParseRange maps a range name to its length; empty means DefaultRange.
func ParseRange(s string) (string, time.Duration, error) {
	if s == "" {
		s = DefaultRange
	}
	d, ok := ranges[s]
	if !ok {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidRange, s)
	}
	return s, d, nil
}

// Store is the slice of catalog.Store the metrics read.
type Store interface {
	SalesBetween(ctx context.Context, userID string, from, to time.Time) (catalog.SalesTotals, error)
	CountLowStock(ctx context.Context, userID string) (int, error)
}

type Service struct {
	Store Store
	Now   func() time.Time
	Log   *zap.Logger
}

type Metrics struct {
	Range    string
	Current  catalog.SalesTotals
	Previous catalog.SalesTotals
	// Percent changes against the previous period; zero when it had nothing.
	RevenueChange decimal.Decimal
	OrdersChange  decimal.Decimal
	LowStock      int
}

// Metrics compares the last range against the equally long period before it.
func (s *Service) Metrics(ctx context.Context, userID, rangeName string) (Metrics, error) {
	name, length, err := ParseRange(rangeName)
	if err != nil {
		return Metrics{}, err
	}
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	now = now.UTC()
	start := now.Add(-length)

	m := Metrics{Range: name}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		m.Current, err = s.Store.SalesBetween(gctx, userID, start, now)
		return err
	})
	g.Go(func() (err error) {
		m.Previous, err = s.Store.SalesBetween(gctx, userID, start.Add(-length), start)
		return err
	})
	g.Go(func() (err error) {
		m.LowStock, err = s.Store.CountLowStock(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		if s.Log != nil {
			s.Log.Warn("analytics query failed", zap.String("user_id", userID), zap.Error(err))
		}
		return Metrics{}, fmt.Errorf("analytics: %w", err)
	}
	m.RevenueChange = change(m.Current.Revenue, m.Previous.Revenue)
	m.OrdersChange = change(decimal.NewFromInt(int64(m.Current.Orders)), decimal.NewFromInt(int64(m.Previous.Orders)))
	return m, nil
}

func change(cur, prev decimal.Decimal) decimal.Decimal {
	if !prev.IsPositive() {
		return decimal.Zero
	}
	return cur.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100)).Round(2)
}
