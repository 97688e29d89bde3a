package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/shop-checkout/internal/domain/cart"
	"github.com/example/shop-checkout/internal/domain/coupon"
	"github.com/example/shop-checkout/internal/domain/order"
	"github.com/example/shop-checkout/internal/domain/product"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	productsCollection = "products"
	cartsCollection    = "carts"
	couponsCollection  = "coupons"
	ordersCollection   = "orders"

	trackingIndex    = "tracking_id_unique"
	idempotencyIndex = "user_idempotency_unique"
)

func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(100)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client.Database(database), nil
}

// EnsureMongoIndexes creates the unique and lookup indexes the repositories
// rely on. It is safe to call on every start.
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(ordersCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "tracking_id", Value: 1}},
			Options: options.Index().SetName(trackingIndex).SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "idempotency_key", Value: 1}},
			Options: options.Index().SetName(idempotencyIndex).SetUnique(true).
				SetPartialFilterExpression(bson.M{"idempotency_key": bson.M{"$type": "string"}}),
		},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create order indexes: %w", err)
	}

	if _, err := db.Collection(cartsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("create cart index: %w", err)
	}

	if _, err := db.Collection(productsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "category", Value: 1}, {Key: "created_at", Value: -1}},
	}); err != nil {
		return fmt.Errorf("create product index: %w", err)
	}
	return nil
}

func toDecimal128(d decimal.Decimal) primitive.Decimal128 {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.NewDecimal128(0, 0)
	}
	return v
}

func fromDecimal128(v primitive.Decimal128) decimal.Decimal {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ======== Products ========

type productDoc struct {
	ID          string               `bson:"_id"`
	Name        string               `bson:"name"`
	Description string               `bson:"description"`
	Category    string               `bson:"category"`
	Image       string               `bson:"image,omitempty"`
	Price       primitive.Decimal128 `bson:"price"`
	Stock       int                  `bson:"stock"`
	CreatedAt   time.Time            `bson:"created_at"`
	UpdatedAt   time.Time            `bson:"updated_at"`
}

func newProductDoc(p *product.Product) productDoc {
	return productDoc{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
		Image:       p.Image,
		Price:       toDecimal128(p.Price),
		Stock:       p.Stock,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func (d productDoc) toProduct() product.Product {
	return product.Product{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Category:    d.Category,
		Image:       d.Image,
		Price:       fromDecimal128(d.Price),
		Stock:       d.Stock,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

type MongoProductRepository struct {
	collection *mongo.Collection
}

func NewMongoProductRepository(db *mongo.Database) *MongoProductRepository {
	return &MongoProductRepository{collection: db.Collection(productsCollection)}
}

func (m *MongoProductRepository) Get(ctx context.Context, id string) (*product.Product, error) {
	var doc productDoc
	err := m.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, product.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	p := doc.toProduct()
	return &p, nil
}

func (m *MongoProductRepository) List(ctx context.Context, filter product.ListFilter) ([]product.Product, error) {
	query := bson.M{}
	if filter.Category != "" {
		query["category"] = filter.Category
	}
	cur, err := m.collection.Find(ctx, query, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	var docs []productDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode products: %w", err)
	}

	out := make([]product.Product, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toProduct())
	}
	return out, nil
}

func (m *MongoProductRepository) Create(ctx context.Context, p *product.Product) error {
	if _, err := m.collection.InsertOne(ctx, newProductDoc(p)); err != nil {
		return fmt.Errorf("failed to insert product: %w", err)
	}
	return nil
}

func (m *MongoProductRepository) Update(ctx context.Context, p *product.Product) error {
	res, err := m.collection.ReplaceOne(ctx, bson.M{"_id": p.ID}, newProductDoc(p))
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	if res.MatchedCount == 0 {
		return product.ErrProductNotFound
	}
	return nil
}

func (m *MongoProductRepository) Delete(ctx context.Context, id string) error {
	res, err := m.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	if res.DeletedCount == 0 {
		return product.ErrProductNotFound
	}
	return nil
}

// DecrementStock matches only documents that still hold qty units.
func (m *MongoProductRepository) DecrementStock(ctx context.Context, id string, qty int) error {
	res, err := m.collection.UpdateOne(ctx,
		bson.M{"_id": id, "stock": bson.M{"$gte": qty}},
		bson.M{
			"$inc": bson.M{"stock": -qty},
			"$set": bson.M{"updated_at": time.Now().UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to decrement stock: %w", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	if _, err := m.Get(ctx, id); err != nil {
		return err
	}
	return product.ErrInsufficientStock
}

func (m *MongoProductRepository) IncrementStock(ctx context.Context, id string, qty int) error {
	res, err := m.collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$inc": bson.M{"stock": qty},
			"$set": bson.M{"updated_at": time.Now().UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to increment stock: %w", err)
	}
	if res.MatchedCount == 0 {
		return product.ErrProductNotFound
	}
	return nil
}

// ======== Carts ========

type cartItemDoc struct {
	ProductID string `bson:"product_id"`
	Quantity  int    `bson:"quantity"`
}

type cartDoc struct {
	UserID    string        `bson:"user_id"`
	Items     []cartItemDoc `bson:"items"`
	UpdatedAt time.Time     `bson:"updated_at"`
}

type MongoCartRepository struct {
	collection *mongo.Collection
}

func NewMongoCartRepository(db *mongo.Database) *MongoCartRepository {
	return &MongoCartRepository{collection: db.Collection(cartsCollection)}
}

func (m *MongoCartRepository) Get(ctx context.Context, userID string) (*cart.Cart, error) {
	var doc cartDoc
	err := m.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return &cart.Cart{UserID: userID, Items: []cart.Item{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	c := &cart.Cart{UserID: userID, Items: make([]cart.Item, 0, len(doc.Items)), UpdatedAt: doc.UpdatedAt}
	for _, it := range doc.Items {
		c.Items = append(c.Items, cart.Item{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return c, nil
}

func (m *MongoCartRepository) Save(ctx context.Context, c *cart.Cart) error {
	items := make([]cartItemDoc, 0, len(c.Items))
	for _, it := range c.Items {
		items = append(items, cartItemDoc{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	_, err := m.collection.UpdateOne(ctx,
		bson.M{"user_id": c.UserID},
		bson.M{"$set": bson.M{"items": items, "updated_at": c.UpdatedAt}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert cart: %w", err)
	}
	return nil
}

func (m *MongoCartRepository) Clear(ctx context.Context, userID string) error {
	_, err := m.collection.UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{"$set": bson.M{"items": bson.A{}, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return nil
}

// ======== Coupons ========

type couponUsageDoc struct {
	User  string `bson:"user"`
	Count int    `bson:"count"`
}

type couponDoc struct {
	Code              string               `bson:"_id"`
	DiscountType      string               `bson:"discount_type"`
	DiscountValue     primitive.Decimal128 `bson:"discount_value"`
	MinOrderAmount    primitive.Decimal128 `bson:"min_order_amount"`
	MaxDiscount       primitive.Decimal128 `bson:"max_discount"`
	UsageLimitPerUser int                  `bson:"usage_limit_per_user"`
	ValidFrom         *time.Time           `bson:"valid_from,omitempty"`
	ValidTill         *time.Time           `bson:"valid_till,omitempty"`
	IsActive          bool                 `bson:"is_active"`
	ApplicableUsers   []string             `bson:"applicable_users"`
	UsedBy            []couponUsageDoc     `bson:"used_by"`
	CreatedAt         time.Time            `bson:"created_at"`
}

func (d couponDoc) toCoupon() coupon.Coupon {
	c := coupon.Coupon{
		Code:              d.Code,
		DiscountType:      coupon.DiscountType(d.DiscountType),
		DiscountValue:     fromDecimal128(d.DiscountValue),
		MinOrderAmount:    fromDecimal128(d.MinOrderAmount),
		MaxDiscount:       fromDecimal128(d.MaxDiscount),
		UsageLimitPerUser: d.UsageLimitPerUser,
		ValidFrom:         d.ValidFrom,
		ValidTill:         d.ValidTill,
		IsActive:          d.IsActive,
		ApplicableUsers:   d.ApplicableUsers,
		UsedBy:            make(map[string]int, len(d.UsedBy)),
		CreatedAt:         d.CreatedAt,
	}
	for _, u := range d.UsedBy {
		c.UsedBy[u.User] = u.Count
	}
	return c
}

type MongoCouponRepository struct {
	collection *mongo.Collection
}

func NewMongoCouponRepository(db *mongo.Database) *MongoCouponRepository {
	return &MongoCouponRepository{collection: db.Collection(couponsCollection)}
}

func (m *MongoCouponRepository) FindActive(ctx context.Context, code string) (*coupon.Coupon, error) {
	var doc couponDoc
	err := m.collection.FindOne(ctx, bson.M{"_id": coupon.NormalizeCode(code), "is_active": true}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, coupon.ErrInvalidCoupon
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find coupon: %w", err)
	}
	c := doc.toCoupon()
	return &c, nil
}

// ListActive applies both window bounds; unset bounds are open.
func (m *MongoCouponRepository) ListActive(ctx context.Context, now time.Time) ([]coupon.Coupon, error) {
	filter := bson.M{
		"is_active": true,
		"$and": bson.A{
			bson.M{"$or": bson.A{bson.M{"valid_from": nil}, bson.M{"valid_from": bson.M{"$lte": now}}}},
			bson.M{"$or": bson.A{bson.M{"valid_till": nil}, bson.M{"valid_till": bson.M{"$gte": now}}}},
		},
	}
	cur, err := m.collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list coupons: %w", err)
	}
	var docs []couponDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode coupons: %w", err)
	}

	out := make([]coupon.Coupon, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toCoupon())
	}
	return out, nil
}

func (m *MongoCouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	allowed := c.ApplicableUsers
	if allowed == nil {
		allowed = []string{}
	}
	doc := couponDoc{
		Code:              c.Code,
		DiscountType:      string(c.DiscountType),
		DiscountValue:     toDecimal128(c.DiscountValue),
		MinOrderAmount:    toDecimal128(c.MinOrderAmount),
		MaxDiscount:       toDecimal128(c.MaxDiscount),
		UsageLimitPerUser: c.UsageLimitPerUser,
		ValidFrom:         c.ValidFrom,
		ValidTill:         c.ValidTill,
		IsActive:          c.IsActive,
		ApplicableUsers:   allowed,
		UsedBy:            []couponUsageDoc{},
		CreatedAt:         c.CreatedAt,
	}
	_, err := m.collection.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return coupon.ErrDuplicateCode
	}
	if err != nil {
		return fmt.Errorf("failed to insert coupon: %w", err)
	}
	return nil
}

// Redeem bumps an existing ledger entry while it is below limit, or pushes
// a first entry when the user has none. Both are single conditional updates;
// when a concurrent first redemption wins the push, the increment is retried.
func (m *MongoCouponRepository) Redeem(ctx context.Context, code, userID string, limit int) error {
	for attempt := 0; attempt < 2; attempt++ {
		res, err := m.collection.UpdateOne(ctx,
			bson.M{"_id": code, "used_by": bson.M{"$elemMatch": bson.M{"user": userID, "count": bson.M{"$lt": limit}}}},
			bson.M{"$inc": bson.M{"used_by.$.count": 1}},
		)
		if err != nil {
			return fmt.Errorf("failed to redeem coupon: %w", err)
		}
		if res.MatchedCount == 1 {
			return nil
		}

		res, err = m.collection.UpdateOne(ctx,
			bson.M{"_id": code, "used_by.user": bson.M{"$ne": userID}},
			bson.M{"$push": bson.M{"used_by": couponUsageDoc{User: userID, Count: 1}}},
		)
		if err != nil {
			return fmt.Errorf("failed to redeem coupon: %w", err)
		}
		if res.MatchedCount == 1 {
			return nil
		}

		n, err := m.collection.CountDocuments(ctx, bson.M{"_id": code, "used_by": bson.M{"$elemMatch": bson.M{"user": userID, "count": bson.M{"$gte": limit}}}})
		if err != nil {
			return fmt.Errorf("failed to check coupon usage: %w", err)
		}
		if n > 0 {
			return coupon.ErrUsageLimitExceeded
		}
		if exists, err := m.collection.CountDocuments(ctx, bson.M{"_id": code}); err == nil && exists == 0 {
			return coupon.ErrInvalidCoupon
		}
	}
	return coupon.ErrUsageLimitExceeded
}

func (m *MongoCouponRepository) Unredeem(ctx context.Context, code, userID string) error {
	_, err := m.collection.UpdateOne(ctx,
		bson.M{"_id": code, "used_by": bson.M{"$elemMatch": bson.M{"user": userID, "count": bson.M{"$gt": 0}}}},
		bson.M{"$inc": bson.M{"used_by.$.count": -1}},
	)
	if err != nil {
		return fmt.Errorf("failed to unredeem coupon: %w", err)
	}
	return nil
}

// ======== Orders ========

type orderLineDoc struct {
	ProductID string               `bson:"product_id"`
	Name      string               `bson:"name"`
	Quantity  int                  `bson:"quantity"`
	UnitPrice primitive.Decimal128 `bson:"unit_price"`
}

type orderDoc struct {
	ID               string               `bson:"_id"`
	UserID           string               `bson:"user_id"`
	Items            []orderLineDoc       `bson:"items"`
	Subtotal         primitive.Decimal128 `bson:"subtotal"`
	Discount         primitive.Decimal128 `bson:"discount"`
	DeliveryCharge   primitive.Decimal128 `bson:"delivery_charge"`
	TotalAmount      primitive.Decimal128 `bson:"total_amount"`
	CouponUsed       string               `bson:"coupon_used,omitempty"`
	PaymentMethod    string               `bson:"payment_method"`
	PaymentReference string               `bson:"payment_reference,omitempty"`
	Address          string               `bson:"address"`
	OrderStatus      string               `bson:"order_status"`
	TrackingID       string               `bson:"tracking_id"`
	IdempotencyKey   string               `bson:"idempotency_key,omitempty"`
	CreatedAt        time.Time            `bson:"created_at"`
	UpdatedAt        time.Time            `bson:"updated_at"`
}

func newOrderDoc(o *order.Order) orderDoc {
	items := make([]orderLineDoc, 0, len(o.Lines))
	for _, l := range o.Lines {
		items = append(items, orderLineDoc{
			ProductID: l.ProductID,
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: toDecimal128(l.UnitPrice),
		})
	}
	return orderDoc{
		ID:               o.ID,
		UserID:           o.UserID,
		Items:            items,
		Subtotal:         toDecimal128(o.Subtotal),
		Discount:         toDecimal128(o.Discount),
		DeliveryCharge:   toDecimal128(o.DeliveryCharge),
		TotalAmount:      toDecimal128(o.TotalAmount),
		CouponUsed:       o.CouponUsed,
		PaymentMethod:    o.PaymentMethod,
		PaymentReference: o.PaymentReference,
		Address:          o.Address,
		OrderStatus:      string(o.Status),
		TrackingID:       o.TrackingID,
		IdempotencyKey:   o.IdempotencyKey,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
}

func (d orderDoc) toOrder() order.Order {
	lines := make([]order.Line, 0, len(d.Items))
	for _, it := range d.Items {
		lines = append(lines, order.Line{
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: fromDecimal128(it.UnitPrice),
		})
	}
	return order.Order{
		ID:               d.ID,
		UserID:           d.UserID,
		Lines:            lines,
		Subtotal:         fromDecimal128(d.Subtotal),
		Discount:         fromDecimal128(d.Discount),
		DeliveryCharge:   fromDecimal128(d.DeliveryCharge),
		TotalAmount:      fromDecimal128(d.TotalAmount),
		CouponUsed:       d.CouponUsed,
		PaymentMethod:    d.PaymentMethod,
		PaymentReference: d.PaymentReference,
		Address:          d.Address,
		Status:           order.Status(d.OrderStatus),
		TrackingID:       d.TrackingID,
		IdempotencyKey:   d.IdempotencyKey,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

type MongoOrderRepository struct {
	collection *mongo.Collection
}

func NewMongoOrderRepository(db *mongo.Database) *MongoOrderRepository {
	return &MongoOrderRepository{collection: db.Collection(ordersCollection)}
}

func (m *MongoOrderRepository) Create(ctx context.Context, o *order.Order) error {
	_, err := m.collection.InsertOne(ctx, newOrderDoc(o))
	if mongo.IsDuplicateKeyError(err) {
		if strings.Contains(err.Error(), trackingIndex) {
			return order.ErrDuplicateTrackingID
		}
		return order.ErrDuplicateIdempotencyKey
	}
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func (m *MongoOrderRepository) findOne(ctx context.Context, filter bson.M) (*order.Order, error) {
	var doc orderDoc
	err := m.collection.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, order.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	o := doc.toOrder()
	return &o, nil
}

func (m *MongoOrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	return m.findOne(ctx, bson.M{"_id": id})
}

func (m *MongoOrderRepository) FindByIdempotencyKey(ctx context.Context, userID, key string) (*order.Order, error) {
	return m.findOne(ctx, bson.M{"user_id": userID, "idempotency_key": key})
}

func (m *MongoOrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	cur, err := m.collection.Find(ctx, bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	var docs []orderDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode orders: %w", err)
	}

	out := make([]order.Order, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toOrder())
	}
	return out, nil
}

func (m *MongoOrderRepository) UpdateStatus(ctx context.Context, id string, to order.Status, from []order.Status) (*order.Order, error) {
	filter := bson.M{"_id": id}
	if len(from) > 0 {
		allowed := make(bson.A, 0, len(from))
		for _, s := range from {
			allowed = append(allowed, string(s))
		}
		filter["order_status"] = bson.M{"$in": allowed}
	}

	var doc orderDoc
	err := m.collection.FindOneAndUpdate(ctx, filter,
		bson.M{"$set": bson.M{"order_status": string(to), "updated_at": time.Now().UTC()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, gerr := m.Get(ctx, id); gerr != nil {
			return nil, gerr
		}
		return nil, order.ErrStatusChanged
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}
	o := doc.toOrder()
	return &o, nil
}
