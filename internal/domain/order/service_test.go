package order

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/example/shop-checkout/internal/infrastructure/store/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRepo is a map-backed Repository. createErrs are returned by successive
// Create calls before it starts succeeding.
type fakeRepo struct {
	mu         sync.Mutex
	orders     map[string]Order
	createErrs []error
	creates    []string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{orders: map[string]Order{}}
}

func (r *fakeRepo) Create(_ context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates = append(r.creates, o.TrackingID)
	if len(r.createErrs) > 0 {
		err := r.createErrs[0]
		r.createErrs = r.createErrs[1:]
		return err
	}
	r.orders[o.ID] = *o
	return nil
}

func (r *fakeRepo) Get(_ context.Context, id string) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return &o, nil
}

func (r *fakeRepo) FindByIdempotencyKey(_ context.Context, userID, key string) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.UserID == userID && o.IdempotencyKey == key {
			return &o, nil
		}
	}
	return nil, ErrOrderNotFound
}

func (r *fakeRepo) ListByUser(_ context.Context, userID string) ([]Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Order
	for _, o := range r.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *fakeRepo) UpdateStatus(_ context.Context, id string, to Status, from []Status) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if len(from) > 0 && !slices.Contains(from, o.Status) {
		return nil, ErrStatusChanged
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	r.orders[id] = o
	return &o, nil
}

func newTestOrderService(opts ...Option) (*Service, *fakeRepo, *mocks.MockEventStore) {
	repo := newFakeRepo()
	es := mocks.NewMockEventStore()
	return NewService(repo, es, opts...), repo, es
}

func createTestOrder(t *testing.T, svc *Service, userID string) *Order {
	t.Helper()
	o := &Order{
		UserID:        userID,
		Lines:         []Line{{ProductID: "p1", Name: "Mug", Quantity: 1, UnitPrice: decimal.NewFromInt(100)}},
		Subtotal:      decimal.NewFromInt(100),
		TotalAmount:   decimal.NewFromInt(150),
		PaymentMethod: "COD",
		Address:       "somewhere",
	}
	require.NoError(t, svc.Create(context.Background(), o))
	return o
}

// ============================================
// Create Tests
// ============================================

func TestService_Create_AssignsIdentity(t *testing.T) {
	svc, repo, es := newTestOrderService()

	o := createTestOrder(t, svc, "u1")

	assert.NotEmpty(t, o.ID)
	assert.Equal(t, StatusProcessing, o.Status)
	assert.Regexp(t, `^TRK\d+$`, o.TrackingID)
	assert.False(t, o.CreatedAt.IsZero())
	assert.Contains(t, repo.orders, o.ID)
	assert.Empty(t, es.AppendCalls, "Create alone records no event")
}

func TestService_Create_RetriesTrackingCollision(t *testing.T) {
	svc, repo, _ := newTestOrderService()
	repo.createErrs = []error{ErrDuplicateTrackingID, ErrDuplicateTrackingID}

	o := createTestOrder(t, svc, "u1")

	require.Len(t, repo.creates, 3)
	assert.Equal(t, o.TrackingID, repo.creates[2])
	assert.NotEqual(t, repo.creates[0], repo.creates[1])
}

func TestService_Create_GivesUpAfterAttempts(t *testing.T) {
	svc, repo, _ := newTestOrderService()
	repo.createErrs = []error{ErrDuplicateTrackingID, ErrDuplicateTrackingID, ErrDuplicateTrackingID}

	err := svc.Create(context.Background(), &Order{UserID: "u1"})

	assert.ErrorIs(t, err, ErrDuplicateTrackingID)
	assert.Len(t, repo.creates, trackingAttempts)
}

func TestService_Create_IdempotencyConflictNotRetried(t *testing.T) {
	svc, repo, _ := newTestOrderService()
	repo.createErrs = []error{ErrDuplicateIdempotencyKey}

	err := svc.Create(context.Background(), &Order{UserID: "u1", IdempotencyKey: "k"})

	assert.ErrorIs(t, err, ErrDuplicateIdempotencyKey)
	assert.Len(t, repo.creates, 1)
}

func TestService_RecordPlaced(t *testing.T) {
	svc, _, es := newTestOrderService()
	o := createTestOrder(t, svc, "u1")

	require.NoError(t, svc.RecordPlaced(context.Background(), o, "u1@example.com"))

	require.Len(t, es.AppendCalls, 1)
	call := es.AppendCalls[0]
	assert.Equal(t, o.ID, call.AggregateID)
	assert.Equal(t, AggregateType, call.AggregateType)
	placed := call.Data.(OrderPlaced)
	assert.Equal(t, "u1@example.com", placed.CustomerEmail)
	assert.Equal(t, o.TrackingID, placed.TrackingID)
	assert.True(t, o.TotalAmount.Equal(placed.TotalAmount))
}

func TestService_RecordPlaced_StoreError(t *testing.T) {
	svc, _, es := newTestOrderService()
	o := createTestOrder(t, svc, "u1")
	es.AppendErr = errors.New("down")

	assert.Error(t, svc.RecordPlaced(context.Background(), o, ""))
}

// ============================================
// Read Tests
// ============================================

func TestService_FindByIdempotencyKey(t *testing.T) {
	svc, _, _ := newTestOrderService()
	ctx := context.Background()
	o := &Order{UserID: "u1", IdempotencyKey: "k1"}
	require.NoError(t, svc.Create(ctx, o))

	found, err := svc.FindByIdempotencyKey(ctx, "u1", "k1")
	require.NoError(t, err)
	assert.Equal(t, o.ID, found.ID)

	none, err := svc.FindByIdempotencyKey(ctx, "u2", "k1")
	require.NoError(t, err)
	assert.Nil(t, none)

	none, err = svc.FindByIdempotencyKey(ctx, "u1", "")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestService_Get_OwnerOnly(t *testing.T) {
	svc, _, _ := newTestOrderService()
	o := createTestOrder(t, svc, "u1")

	got, err := svc.Get(context.Background(), o.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	_, err = svc.Get(context.Background(), o.ID, "u2")
	assert.ErrorIs(t, err, ErrNotAuthorized)

	_, err = svc.Get(context.Background(), "missing", "u1")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestService_History(t *testing.T) {
	svc, _, _ := newTestOrderService()
	ctx := context.Background()
	o := createTestOrder(t, svc, "u1")
	require.NoError(t, svc.RecordPlaced(ctx, o, ""))
	_, err := svc.Cancel(ctx, o.ID, "u1", "")
	require.NoError(t, err)

	events, err := svc.History(ctx, o.ID)

	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventOrderPlaced, events[0].EventType)
	assert.Equal(t, EventOrderCancelled, events[1].EventType)
	assert.Equal(t, 2, events[1].Version)

	_, err = svc.History(ctx, "missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

// ============================================
// Cancel Tests
// ============================================

func TestService_Cancel(t *testing.T) {
	svc, repo, es := newTestOrderService()
	o := createTestOrder(t, svc, "u1")

	cancelled, err := svc.Cancel(context.Background(), o.ID, "u1", "u1@example.com")

	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, StatusCancelled, repo.orders[o.ID].Status)
	assert.Equal(t, []string{EventOrderCancelled}, es.EventTypes())
	assert.Equal(t, "u1@example.com", es.AppendCalls[0].Data.(OrderCancelled).CustomerEmail)
}

func TestService_Cancel_Rejections(t *testing.T) {
	tests := []struct {
		status Status
		want   error
	}{
		{StatusShipped, ErrCannotCancel},
		{StatusOutForDelivery, ErrCannotCancel},
		{StatusDelivered, ErrCannotCancel},
		{StatusCancelled, ErrOrderCancelled},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			svc, repo, es := newTestOrderService()
			o := createTestOrder(t, svc, "u1")
			stored := repo.orders[o.ID]
			stored.Status = tt.status
			repo.orders[o.ID] = stored

			_, err := svc.Cancel(context.Background(), o.ID, "u1", "")

			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.status, repo.orders[o.ID].Status)
			assert.Empty(t, es.AppendCalls)
		})
	}
}

func TestService_Cancel_NotOwner(t *testing.T) {
	svc, repo, _ := newTestOrderService()
	o := createTestOrder(t, svc, "u1")

	_, err := svc.Cancel(context.Background(), o.ID, "u2", "")

	assert.ErrorIs(t, err, ErrNotAuthorized)
	assert.Equal(t, StatusProcessing, repo.orders[o.ID].Status)
}

// racingRepo ships the order between the read and the conditional write.
type racingRepo struct {
	*fakeRepo
}

func (r racingRepo) UpdateStatus(ctx context.Context, id string, to Status, from []Status) (*Order, error) {
	if _, err := r.fakeRepo.UpdateStatus(ctx, id, StatusShipped, nil); err != nil {
		return nil, err
	}
	return r.fakeRepo.UpdateStatus(ctx, id, to, from)
}

func TestService_Cancel_LosesRaceToShipment(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(racingRepo{repo}, mocks.NewMockEventStore())
	o := createTestOrder(t, svc, "u1")

	_, err := svc.Cancel(context.Background(), o.ID, "u1", "")

	assert.ErrorIs(t, err, ErrCannotCancel)
	assert.Equal(t, StatusShipped, repo.orders[o.ID].Status)
}

func TestService_Cancel_EventFailureStillCancels(t *testing.T) {
	svc, _, es := newTestOrderService()
	o := createTestOrder(t, svc, "u1")
	es.AppendErr = errors.New("down")

	cancelled, err := svc.Cancel(context.Background(), o.ID, "u1", "")

	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
}

// ============================================
// UpdateStatus Tests
// ============================================

func TestService_UpdateStatus_Lenient(t *testing.T) {
	svc, _, es := newTestOrderService()
	o := createTestOrder(t, svc, "u1")
	ctx := context.Background()

	_, err := svc.UpdateStatus(ctx, o.ID, StatusDelivered)
	require.NoError(t, err)
	back, err := svc.UpdateStatus(ctx, o.ID, StatusProcessing)
	require.NoError(t, err)

	assert.Equal(t, StatusProcessing, back.Status)
	changed := es.AppendCalls[1].Data.(OrderStatusChanged)
	assert.Equal(t, StatusDelivered, changed.From)
	assert.Equal(t, StatusProcessing, changed.To)
}

func TestService_UpdateStatus_Strict(t *testing.T) {
	svc, _, _ := newTestOrderService(WithStrictTransitions(true))
	o := createTestOrder(t, svc, "u1")
	ctx := context.Background()

	_, err := svc.UpdateStatus(ctx, o.ID, StatusShipped)
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, o.ID, StatusProcessing)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.UpdateStatus(ctx, o.ID, StatusCancelled)
	assert.ErrorIs(t, err, ErrCannotCancel)
}

func TestService_UpdateStatus_UnknownStatus(t *testing.T) {
	svc, _, _ := newTestOrderService()
	o := createTestOrder(t, svc, "u1")

	_, err := svc.UpdateStatus(context.Background(), o.ID, Status("Lost"))

	assert.ErrorIs(t, err, ErrInvalidStatus)
}
