package catalog

import (
	"context"
	"time"
)

func (r *Repo) SalesBetween(ctx context.Context, userID string, from, to time.Time) (SalesTotals, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT COALESCE(c.channel_type, ''), COALESCE(SUM(o.total_amount), 0), count(*)
		FROM orders o LEFT JOIN channels c ON c.id = o.channel_id
		WHERE o.user_id=$1 AND o.order_date >= $2 AND o.order_date < $3
		GROUP BY 1
		ORDER BY 2 DESC, 1`, userID, from, to)
	if err != nil {
		return SalesTotals{}, err
	}
	defer rows.Close()

	var out []ChannelSales
	for rows.Next() {
		var (
			cs  ChannelSales
			typ string
		)
		if err := rows.Scan(&typ, &cs.Revenue, &cs.Orders); err != nil {
			return SalesTotals{}, err
		}
		cs.ChannelType = ChannelType(typ)
		out = append(out, cs)
	}
	if err := rows.Err(); err != nil {
		return SalesTotals{}, err
	}
	return totals(from, to, out), nil
}

// CountLowStock counts inventory rows at or below their reorder point.
func (r *Repo) CountLowStock(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.DB.QueryRow(ctx, `
		SELECT count(*)
		FROM inventory i JOIN products p ON p.id = i.product_id
		WHERE p.user_id=$1 AND i.available_quantity <= i.reorder_point`, userID).Scan(&n)
	return n, err
}
