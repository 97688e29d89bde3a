package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/example/shop-checkout/internal/domain/cart"
	"github.com/example/shop-checkout/internal/domain/coupon"
	"github.com/example/shop-checkout/internal/domain/order"
	"github.com/example/shop-checkout/internal/domain/product"
	"github.com/lib/pq"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"

	trackingIDConstraint = "orders_tracking_id_key"
)

func pqCode(err error) (pq.ErrorCode, string) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code, pqErr.Constraint
	}
	return "", ""
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// ======== Products ========

type PostgresProductRepository struct {
	db *sql.DB
}

func NewPostgresProductRepository(db *sql.DB) *PostgresProductRepository {
	return &PostgresProductRepository{db: db}
}

const productColumns = `id, name, description, category, image, price, stock, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*product.Product, error) {
	var p product.Product
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.Image, &p.Price, &p.Stock, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PostgresProductRepository) Get(ctx context.Context, id string) (*product.Product, error) {
	p, err := scanProduct(r.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, product.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

func (r *PostgresProductRepository) List(ctx context.Context, filter product.ListFilter) ([]product.Product, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products
		 WHERE ($1 = '' OR category = $1)
		 ORDER BY created_at DESC`,
		filter.Category,
	)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	out := make([]product.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *PostgresProductRepository) Create(ctx context.Context, p *product.Product) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO products (`+productColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.Name, p.Description, p.Category, p.Image, p.Price, p.Stock, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (r *PostgresProductRepository) Update(ctx context.Context, p *product.Product) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE products SET name = $2, description = $3, category = $4, image = $5, price = $6, stock = $7, updated_at = $8
		 WHERE id = $1`,
		p.ID, p.Name, p.Description, p.Category, p.Image, p.Price, p.Stock, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	return expectOne(res, product.ErrProductNotFound)
}

func (r *PostgresProductRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	return expectOne(res, product.ErrProductNotFound)
}

// DecrementStock guards and writes in a single UPDATE, so concurrent
// checkouts cannot both pass the check.
func (r *PostgresProductRepository) DecrementStock(ctx context.Context, id string, qty int) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE products SET stock = stock - $2, updated_at = NOW() WHERE id = $1 AND stock >= $2`,
		id, qty,
	)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return product.ErrInsufficientStock
}

func (r *PostgresProductRepository) IncrementStock(ctx context.Context, id string, qty int) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE products SET stock = stock + $2, updated_at = NOW() WHERE id = $1`,
		id, qty,
	)
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}
	return expectOne(res, product.ErrProductNotFound)
}

func expectOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// ======== Carts ========

type PostgresCartRepository struct {
	db *sql.DB
}

func NewPostgresCartRepository(db *sql.DB) *PostgresCartRepository {
	return &PostgresCartRepository{db: db}
}

func (r *PostgresCartRepository) Get(ctx context.Context, userID string) (*cart.Cart, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT product_id, quantity FROM cart_items WHERE user_id = $1 ORDER BY position ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}
	defer rows.Close()

	c := &cart.Cart{UserID: userID, Items: []cart.Item{}}
	for rows.Next() {
		var it cart.Item
		if err := rows.Scan(&it.ProductID, &it.Quantity); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		c.Items = append(c.Items, it)
	}
	return c, rows.Err()
}

// Save replaces the user's lines in one transaction.
func (r *PostgresCartRepository) Save(ctx context.Context, c *cart.Cart) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, c.UserID); err != nil {
		return fmt.Errorf("clear cart items: %w", err)
	}
	for i, it := range c.Items {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cart_items (user_id, product_id, quantity, position) VALUES ($1, $2, $3, $4)`,
			c.UserID, it.ProductID, it.Quantity, i,
		); err != nil {
			return fmt.Errorf("insert cart item: %w", err)
		}
	}
	return tx.Commit()
}

func (r *PostgresCartRepository) Clear(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

// ======== Coupons ========

type PostgresCouponRepository struct {
	db *sql.DB
}

func NewPostgresCouponRepository(db *sql.DB) *PostgresCouponRepository {
	return &PostgresCouponRepository{db: db}
}

const couponColumns = `code, discount_type, discount_value, min_order_amount, max_discount,
	usage_limit_per_user, valid_from, valid_till, is_active, applicable_users, created_at`

func scanCoupon(row rowScanner) (*coupon.Coupon, error) {
	var (
		c        coupon.Coupon
		from     sql.NullTime
		till     sql.NullTime
		allowed  []string
		discType string
	)
	if err := row.Scan(&c.Code, &discType, &c.DiscountValue, &c.MinOrderAmount, &c.MaxDiscount,
		&c.UsageLimitPerUser, &from, &till, &c.IsActive, pq.Array(&allowed), &c.CreatedAt); err != nil {
		return nil, err
	}
	c.DiscountType = coupon.DiscountType(discType)
	c.ValidFrom = timePtr(from)
	c.ValidTill = timePtr(till)
	c.ApplicableUsers = allowed
	c.UsedBy = map[string]int{}
	return &c, nil
}

func (r *PostgresCouponRepository) loadUsage(ctx context.Context, c *coupon.Coupon) error {
	rows, err := r.db.QueryContext(ctx, `SELECT user_id, count FROM coupon_usage WHERE code = $1`, c.Code)
	if err != nil {
		return fmt.Errorf("load coupon usage: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			user  string
			count int
		)
		if err := rows.Scan(&user, &count); err != nil {
			return fmt.Errorf("scan coupon usage: %w", err)
		}
		c.UsedBy[user] = count
	}
	return rows.Err()
}

func (r *PostgresCouponRepository) FindActive(ctx context.Context, code string) (*coupon.Coupon, error) {
	c, err := scanCoupon(r.db.QueryRowContext(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE code = $1 AND is_active`,
		coupon.NormalizeCode(code),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, coupon.ErrInvalidCoupon
	}
	if err != nil {
		return nil, fmt.Errorf("find coupon: %w", err)
	}
	if err := r.loadUsage(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ListActive skips the usage ledger; callers only show public fields.
func (r *PostgresCouponRepository) ListActive(ctx context.Context, now time.Time) ([]coupon.Coupon, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+couponColumns+` FROM coupons
		 WHERE is_active
		   AND (valid_from IS NULL OR valid_from <= $1)
		   AND (valid_till IS NULL OR valid_till >= $1)
		 ORDER BY code`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("list coupons: %w", err)
	}
	defer rows.Close()

	out := make([]coupon.Coupon, 0)
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, fmt.Errorf("scan coupon: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *PostgresCouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	allowed := c.ApplicableUsers
	if allowed == nil {
		allowed = []string{}
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO coupons (`+couponColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.Code, string(c.DiscountType), c.DiscountValue, c.MinOrderAmount, c.MaxDiscount,
		c.UsageLimitPerUser, nullTime(c.ValidFrom), nullTime(c.ValidTill), c.IsActive, pq.Array(allowed), c.CreatedAt,
	)
	if code, _ := pqCode(err); code == pqUniqueViolation {
		return coupon.ErrDuplicateCode
	}
	if err != nil {
		return fmt.Errorf("insert coupon: %w", err)
	}
	return nil
}

// Redeem upserts the usage row; the conflict branch only fires while the
// count is below limit, so the check and increment are one statement.
func (r *PostgresCouponRepository) Redeem(ctx context.Context, code, userID string, limit int) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO coupon_usage (code, user_id, count) VALUES ($1, $2, 1)
		 ON CONFLICT (code, user_id) DO UPDATE SET count = coupon_usage.count + 1
		 WHERE coupon_usage.count < $3`,
		code, userID, limit,
	)
	if c, _ := pqCode(err); c == pqForeignKeyViolation {
		return coupon.ErrInvalidCoupon
	}
	if err != nil {
		return fmt.Errorf("redeem coupon: %w", err)
	}
	return expectOne(res, coupon.ErrUsageLimitExceeded)
}

func (r *PostgresCouponRepository) Unredeem(ctx context.Context, code, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE coupon_usage SET count = count - 1 WHERE code = $1 AND user_id = $2 AND count > 0`,
		code, userID,
	)
	if err != nil {
		return fmt.Errorf("unredeem coupon: %w", err)
	}
	return nil
}

// ======== Orders ========

type PostgresOrderRepository struct {
	db *sql.DB
}

func NewPostgresOrderRepository(db *sql.DB) *PostgresOrderRepository {
	return &PostgresOrderRepository{db: db}
}

const orderColumns = `id, user_id, subtotal, discount, delivery_charge, total_amount, coupon_used,
	payment_method, payment_reference, address, order_status, tracking_id, idempotency_key, created_at, updated_at`

func scanOrder(row rowScanner) (*order.Order, error) {
	var (
		o      order.Order
		status string
		key    sql.NullString
	)
	if err := row.Scan(&o.ID, &o.UserID, &o.Subtotal, &o.Discount, &o.DeliveryCharge, &o.TotalAmount, &o.CouponUsed,
		&o.PaymentMethod, &o.PaymentReference, &o.Address, &status, &o.TrackingID, &key, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Status = order.Status(status)
	o.IdempotencyKey = key.String
	return &o, nil
}

func (r *PostgresOrderRepository) Create(ctx context.Context, o *order.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	key := sql.NullString{String: o.IdempotencyKey, Valid: o.IdempotencyKey != ""}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO orders (`+orderColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		o.ID, o.UserID, o.Subtotal, o.Discount, o.DeliveryCharge, o.TotalAmount, o.CouponUsed,
		o.PaymentMethod, o.PaymentReference, o.Address, string(o.Status), o.TrackingID, key, o.CreatedAt, o.UpdatedAt,
	)
	if code, constraint := pqCode(err); code == pqUniqueViolation {
		if constraint == trackingIDConstraint {
			return order.ErrDuplicateTrackingID
		}
		return order.ErrDuplicateIdempotencyKey
	}
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i, l := range o.Lines {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO order_lines (order_id, position, product_id, name, quantity, unit_price)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			o.ID, i, l.ProductID, l.Name, l.Quantity, l.UnitPrice,
		); err != nil {
			return fmt.Errorf("insert order line: %w", err)
		}
	}
	return tx.Commit()
}

func (r *PostgresOrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *PostgresOrderRepository) FindByIdempotencyKey(ctx context.Context, userID, key string) (*order.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id = $1 AND idempotency_key = $2`, userID, key)
}

func (r *PostgresOrderRepository) getOne(ctx context.Context, query string, args ...any) (*order.Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, order.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if err := r.loadLines(ctx, []*order.Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *PostgresOrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []*order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadLines(ctx, orders); err != nil {
		return nil, err
	}

	out := make([]order.Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, *o)
	}
	return out, nil
}

func (r *PostgresOrderRepository) loadLines(ctx context.Context, orders []*order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	byID := make(map[string]*order.Order, len(orders))
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT order_id, product_id, name, quantity, unit_price FROM order_lines
		 WHERE order_id = ANY($1) ORDER BY order_id, position`,
		pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("load order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID string
			l       order.Line
		)
		if err := rows.Scan(&orderID, &l.ProductID, &l.Name, &l.Quantity, &l.UnitPrice); err != nil {
			return fmt.Errorf("scan order line: %w", err)
		}
		if o := byID[orderID]; o != nil {
			o.Lines = append(o.Lines, l)
		}
	}
	return rows.Err()
}

func (r *PostgresOrderRepository) UpdateStatus(ctx context.Context, id string, to order.Status, from []order.Status) (*order.Order, error) {
	allowed := make([]string, 0, len(from))
	for _, s := range from {
		allowed = append(allowed, string(s))
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE orders SET order_status = $2, updated_at = $3
		 WHERE id = $1 AND (cardinality($4::text[]) = 0 OR order_status = ANY($4::text[]))`,
		id, string(to), time.Now().UTC(), pq.Array(allowed),
	)
	if err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, order.ErrStatusChanged
	}
	return r.Get(ctx, id)
}
