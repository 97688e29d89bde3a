package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var (
	ErrInvalidSignature = errors.New("invalid payment signature")
	ErrMissingProof     = errors.New("orderReference, paymentReference and signature are required")
)

// Proof is the gateway's confirmation as relayed by the client.
type Proof struct {
	OrderReference   string `json:"orderReference"`
	PaymentReference string `json:"paymentReference"`
	Signature        string `json:"signature"`
}

// Verifier checks HMAC-SHA256 signatures over "order|payment".
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Sign returns the lowercase hex signature for the pair.
func (v *Verifier) Sign(orderRef, paymentRef string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(orderRef + "|" + paymentRef))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares in constant time. Any mismatch is ErrInvalidSignature.
func (v *Verifier) Verify(p Proof) error {
	if p.OrderReference == "" || p.PaymentReference == "" || p.Signature == "" {
		return ErrMissingProof
	}
	expected := v.Sign(p.OrderReference, p.PaymentReference)
	if !hmac.Equal([]byte(expected), []byte(p.Signature)) {
		return ErrInvalidSignature
	}
	return nil
}
