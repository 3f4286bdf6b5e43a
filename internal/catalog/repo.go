package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the Postgres-backed Store.
type Repo struct{ DB *pgxpool.Pool }

var _ Store = (*Repo)(nil)

const channelCols = `id, user_id, channel_type, channel_name, is_connected, api_credentials, last_sync_at, created_at, updated_at`

func scanChannel(row pgx.Row) (*Channel, error) {
	var (
		ch    Channel
		typ   string
		creds []byte
	)
	if err := row.Scan(&ch.ID, &ch.UserID, &typ, &ch.Name, &ch.Connected, &creds, &ch.LastSyncAt, &ch.CreatedAt, &ch.UpdatedAt); err != nil {
		return nil, err
	}
	ch.Type = ChannelType(typ)
	ch.Credentials = json.RawMessage(creds)
	return &ch, nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func credentialsOrEmpty(c json.RawMessage) []byte {
	if len(c) == 0 {
		return []byte("{}")
	}
	return c
}

func (r *Repo) GetChannel(ctx context.Context, userID, channelID string) (*Channel, error) {
	if uuid.Validate(channelID) != nil {
		return nil, ErrNotFound
	}
	ch, err := scanChannel(r.DB.QueryRow(ctx,
		`SELECT `+channelCols+` FROM channels WHERE id=$1 AND user_id=$2`, channelID, userID))
	if err != nil {
		return nil, notFound(err)
	}
	return ch, nil
}

func (r *Repo) ListChannels(ctx context.Context, userID string) ([]Channel, error) {
	rows, err := r.DB.Query(ctx,
		`SELECT `+channelCols+` FROM channels WHERE user_id=$1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ch)
	}
	return out, rows.Err()
}

func (r *Repo) CreateChannel(ctx context.Context, ch *Channel) error {
	if ch.ID == "" {
		ch.ID = uuid.NewString()
	}
	return r.DB.QueryRow(ctx, `
		INSERT INTO channels(id, user_id, channel_type, channel_name, is_connected, api_credentials)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`,
		ch.ID, ch.UserID, string(ch.Type), ch.Name, ch.Connected, credentialsOrEmpty(ch.Credentials),
	).Scan(&ch.CreatedAt, &ch.UpdatedAt)
}

func (r *Repo) UpsertChannelByType(ctx context.Context, ch *Channel) (bool, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// serialize concurrent callbacks for the same (user, type)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ch.UserID+"|"+string(ch.Type)); err != nil {
		return false, err
	}

	var existing string
	err = tx.QueryRow(ctx, `SELECT id FROM channels WHERE user_id=$1 AND channel_type=$2 ORDER BY created_at LIMIT 1`,
		ch.UserID, string(ch.Type)).Scan(&existing)
	created := false
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		created = true
		if ch.ID == "" {
			ch.ID = uuid.NewString()
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO channels(id, user_id, channel_type, channel_name, is_connected, api_credentials)
			VALUES ($1,$2,$3,$4,$5,$6)
			RETURNING created_at, updated_at`,
			ch.ID, ch.UserID, string(ch.Type), ch.Name, ch.Connected, credentialsOrEmpty(ch.Credentials),
		).Scan(&ch.CreatedAt, &ch.UpdatedAt)
	case err == nil:
		ch.ID = existing
		err = tx.QueryRow(ctx, `
			UPDATE channels
			SET channel_name=$2, is_connected=$3, api_credentials=$4, last_sync_at=NULL, updated_at=now()
			WHERE id=$1
			RETURNING created_at, updated_at`,
			ch.ID, ch.Name, ch.Connected, credentialsOrEmpty(ch.Credentials),
		).Scan(&ch.CreatedAt, &ch.UpdatedAt)
	}
	if err != nil {
		return false, err
	}
	ch.LastSyncAt = nil
	return created, tx.Commit(ctx)
}

func (r *Repo) UpdateChannelCredentials(ctx context.Context, channelID string, creds json.RawMessage) error {
	tag, err := r.DB.Exec(ctx,
		`UPDATE channels SET api_credentials=$2, updated_at=now() WHERE id=$1`, channelID, credentialsOrEmpty(creds))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) TouchLastSync(ctx context.Context, channelID string, at time.Time) error {
	tag, err := r.DB.Exec(ctx,
		`UPDATE channels SET last_sync_at=$2, updated_at=now() WHERE id=$1`, channelID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) DeleteChannel(ctx context.Context, userID, channelID string) error {
	if uuid.Validate(channelID) != nil {
		return ErrNotFound
	}
	tag, err := r.DB.Exec(ctx, `DELETE FROM channels WHERE id=$1 AND user_id=$2`, channelID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const productCols = `id, user_id, sku, title, description, price, cost, status, created_at, updated_at`

func scanProduct(row pgx.Row) (*Product, error) {
	var (
		p      Product
		status string
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.SKU, &p.Title, &p.Description, &p.Price, &p.Cost, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Status = ProductStatus(status)
	return &p, nil
}

func (r *Repo) GetProduct(ctx context.Context, userID, productID string) (*Product, error) {
	if uuid.Validate(productID) != nil {
		return nil, ErrNotFound
	}
	p, err := scanProduct(r.DB.QueryRow(ctx,
		`SELECT `+productCols+` FROM products WHERE id=$1 AND user_id=$2`, productID, userID))
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

func (r *Repo) ListProducts(ctx context.Context, userID string) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+productCols+` FROM products WHERE user_id=$1 ORDER BY sku`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *Repo) FindProductBySKU(ctx context.Context, userID, sku string) (*Product, error) {
	p, err := scanProduct(r.DB.QueryRow(ctx,
		`SELECT `+productCols+` FROM products WHERE user_id=$1 AND sku=$2`, userID, sku))
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

func (r *Repo) CreateProduct(ctx context.Context, p *Product) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = ProductActive
	}
	err := r.DB.QueryRow(ctx, `
		INSERT INTO products(id, user_id, sku, title, description, price, cost, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		p.ID, p.UserID, p.SKU, p.Title, p.Description, p.Price, p.Cost, string(p.Status),
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrConflict
	}
	return err
}

func (r *Repo) EnsureProduct(ctx context.Context, p *Product) (*Product, bool, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = ProductActive
	}
	err := r.DB.QueryRow(ctx, `
		INSERT INTO products(id, user_id, sku, title, description, price, cost, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (user_id, sku) DO NOTHING
		RETURNING created_at, updated_at`,
		p.ID, p.UserID, p.SKU, p.Title, p.Description, p.Price, p.Cost, string(p.Status),
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err == nil {
		return p, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}
	// lost the race or already present
	stored, err := r.FindProductBySKU(ctx, p.UserID, p.SKU)
	if err != nil {
		return nil, false, err
	}
	return stored, false, nil
}

func (r *Repo) UpdateProductTitle(ctx context.Context, productID, title string) error {
	tag, err := r.DB.Exec(ctx, `UPDATE products SET title=$2, updated_at=now() WHERE id=$1`, productID, title)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) OrderExists(ctx context.Context, channelID, externalOrderID string) (bool, error) {
	var exists bool
	err := r.DB.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM orders WHERE channel_id=$1 AND external_order_id=$2)`,
		channelID, externalOrderID).Scan(&exists)
	return exists, err
}

// CreateOrder is idempotent on (channel_id, external_order_id). The order row
// and its items commit together.
func (r *Repo) CreateOrder(ctx context.Context, o *Order, items []OrderItem) (bool, error) {
	addr, err := gojson.Marshal(o.ShippingAddress)
	if err != nil {
		return false, fmt.Errorf("encode shipping address: %w", err)
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	var email *string
	if o.CustomerEmail != "" {
		email = &o.CustomerEmail
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO orders(id, user_id, channel_id, external_order_id, order_number, customer_name, customer_email,
		                   shipping_address, order_status, payment_status, total_amount, tax_amount, shipping_amount, order_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (channel_id, external_order_id) DO NOTHING
		RETURNING created_at`,
		o.ID, o.UserID, o.ChannelID, o.ExternalOrderID, o.OrderNumber, o.CustomerName, email,
		addr, string(o.Status), string(o.PaymentStatus), o.TotalAmount, o.TaxAmount, o.ShippingAmount, o.OrderDate,
	).Scan(&o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM order_items WHERE order_id=$1`, o.ID); err != nil {
		return false, err
	}
	for i := range items {
		it := &items[i]
		it.ID = uuid.NewString()
		it.OrderID = o.ID
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(id, order_id, product_id, sku, product_name, quantity, unit_price, total_price)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			it.ID, it.OrderID, it.ProductID, it.SKU, it.ProductName, it.Quantity, it.UnitPrice, it.TotalPrice,
		); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Repo) ListOrders(ctx context.Context, userID, channelID string) ([]Order, error) {
	q := `SELECT id, user_id, channel_id, external_order_id, order_number, customer_name, COALESCE(customer_email, ''),
	             shipping_address, order_status, payment_status, total_amount, tax_amount, shipping_amount, order_date, created_at
	      FROM orders WHERE user_id=$1`
	args := []any{userID}
	if channelID != "" {
		if uuid.Validate(channelID) != nil {
			return nil, nil
		}
		q += ` AND channel_id=$2`
		args = append(args, channelID)
	}
	q += ` ORDER BY order_date DESC`

	rows, err := r.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var (
			o               Order
			addr            []byte
			status, payStat string
		)
		if err := rows.Scan(&o.ID, &o.UserID, &o.ChannelID, &o.ExternalOrderID, &o.OrderNumber, &o.CustomerName, &o.CustomerEmail,
			&addr, &status, &payStat, &o.TotalAmount, &o.TaxAmount, &o.ShippingAmount, &o.OrderDate, &o.CreatedAt); err != nil {
			return nil, err
		}
		if len(addr) > 0 {
			if err := gojson.Unmarshal(addr, &o.ShippingAddress); err != nil {
				return nil, fmt.Errorf("decode shipping address of order %s: %w", o.ID, err)
			}
		}
		o.Status = OrderStatus(status)
		o.PaymentStatus = PaymentStatus(payStat)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *Repo) CountOrderItems(ctx context.Context, orderID string) (int, error) {
	var n int
	err := r.DB.QueryRow(ctx, `SELECT count(*) FROM order_items WHERE order_id=$1`, orderID).Scan(&n)
	return n, err
}

// UpsertInventory overwrites quantity from the marketplace and keeps any
// locally reserved stock, clamped so available never goes negative.
func (r *Repo) UpsertInventory(ctx context.Context, rec *InventoryRecord) error {
	rec.Normalize()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	return r.DB.QueryRow(ctx, `
		INSERT INTO inventory(id, product_id, warehouse_location, quantity, reserved_quantity, available_quantity,
		                      reorder_point, reorder_quantity, last_updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
		ON CONFLICT (product_id, warehouse_location) DO UPDATE SET
			quantity           = EXCLUDED.quantity,
			reserved_quantity  = LEAST(inventory.reserved_quantity, EXCLUDED.quantity),
			available_quantity = EXCLUDED.quantity - LEAST(inventory.reserved_quantity, EXCLUDED.quantity),
			last_updated_at    = now()
		RETURNING id, reserved_quantity, available_quantity, reorder_point, reorder_quantity, last_updated_at`,
		rec.ID, rec.ProductID, rec.WarehouseLocation, rec.Quantity, rec.ReservedQuantity, rec.AvailableQuantity,
		rec.ReorderPoint, rec.ReorderQuantity,
	).Scan(&rec.ID, &rec.ReservedQuantity, &rec.AvailableQuantity, &rec.ReorderPoint, &rec.ReorderQuantity, &rec.LastUpdatedAt)
}

func (r *Repo) ListInventory(ctx context.Context, userID string) ([]InventoryRecord, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT i.id, i.product_id, i.warehouse_location, i.quantity, i.reserved_quantity, i.available_quantity,
		       i.reorder_point, i.reorder_quantity, i.last_updated_at
		FROM inventory i JOIN products p ON p.id = i.product_id
		WHERE p.user_id=$1
		ORDER BY p.sku, i.warehouse_location`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InventoryRecord
	for rows.Next() {
		var rec InventoryRecord
		if err := rows.Scan(&rec.ID, &rec.ProductID, &rec.WarehouseLocation, &rec.Quantity, &rec.ReservedQuantity,
			&rec.AvailableQuantity, &rec.ReorderPoint, &rec.ReorderQuantity, &rec.LastUpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *Repo) CreateListing(ctx context.Context, l *Listing) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return r.DB.QueryRow(ctx, `
		INSERT INTO product_listings(id, product_id, channel_id, channel_sku, channel_price, is_active, last_synced_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
		RETURNING last_synced_at`,
		l.ID, l.ProductID, l.ChannelID, l.ChannelSKU, l.ChannelPrice, l.Active,
	).Scan(&l.LastSyncedAt)
}
