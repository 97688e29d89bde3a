package email

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"

	jemail "github.com/jordan-wright/email"
)

var ErrNoRecipient = errors.New("email: no recipient")

// Sender delivers a composed message.
type Sender func(e *jemail.Email) error

// Service composes order emails and hands them to SMTP.
type Service struct {
	from string
	send Sender
}

// NewService sends through the SMTP server at addr (host:port). auth may be
// nil for local relays such as MailHog.
func NewService(addr, from string, auth smtp.Auth) *Service {
	return &Service{
		from: from,
		send: func(e *jemail.Email) error { return e.Send(addr, auth) },
	}
}

// WithSender replaces the SMTP transport.
func (s *Service) WithSender(send Sender) *Service {
	s.send = send
	return s
}

func (s *Service) SendOrderConfirmation(ctx context.Context, c OrderConfirmation) error {
	body, err := BuildOrderConfirmationBody(c)
	if err != nil {
		return fmt.Errorf("render confirmation: %w", err)
	}
	subject := fmt.Sprintf("Order confirmed: %s", reference(c.TrackingID, c.OrderID))
	return s.deliver(ctx, c.To, subject, body)
}

func (s *Service) SendOrderCancelled(ctx context.Context, c OrderCancellation) error {
	body, err := BuildCancellationBody(c)
	if err != nil {
		return fmt.Errorf("render cancellation: %w", err)
	}
	subject := fmt.Sprintf("Order cancelled: %s", reference(c.TrackingID, c.OrderID))
	return s.deliver(ctx, c.To, subject, body)
}

func (s *Service) deliver(ctx context.Context, to, subject, body string) error {
	if to == "" {
		return ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e := jemail.NewEmail()
	e.From = s.from
	e.To = []string{to}
	e.Subject = subject
	e.HTML = []byte(body)
	if err := s.send(e); err != nil {
		return fmt.Errorf("send to %s: %w", to, err)
	}
	return nil
}

// reference prefers the customer-facing tracking id.
func reference(trackingID, orderID string) string {
	if trackingID != "" {
		return trackingID
	}
	if len(orderID) > 8 {
		return orderID[:8]
	}
	return orderID
}
