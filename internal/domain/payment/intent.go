package payment

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const DefaultCurrency = "INR"

var (
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)

// IntentRequest is what the gateway needs to open a payment. Amount is in
// minor currency units.
type IntentRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

// Intent is the gateway's payment order.
type Intent struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// Gateway creates payment intents with an external provider.
type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
}

// ToMinorUnits converts a major-unit amount, rounding half away from zero.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

type Service struct {
	gateway  Gateway
	verifier *Verifier
	currency string
	now      func() time.Time
}

func NewService(gateway Gateway, verifier *Verifier) *Service {
	return &Service{
		gateway:  gateway,
		verifier: verifier,
		currency: DefaultCurrency,
		now:      time.Now,
	}
}

func (s *Service) CreateIntent(ctx context.Context, amount decimal.Decimal) (*Intent, error) {
	minor := ToMinorUnits(amount)
	if minor <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.gateway.CreateIntent(ctx, IntentRequest{
		Amount:   minor,
		Currency: s.currency,
		Receipt:  "receipt_" + strconv.FormatInt(s.now().UnixMilli(), 10),
	})
}

func (s *Service) Verify(p Proof) error {
	return s.verifier.Verify(p)
}

// OfflineGateway issues local references when no provider is configured.
type OfflineGateway struct{}

func (OfflineGateway) CreateIntent(_ context.Context, req IntentRequest) (*Intent, error) {
	return &Intent{
		ID:       "order_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:14],
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Status:   "created",
	}, nil
}
