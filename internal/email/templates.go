package email

import (
	"bytes"
	"html/template"
	"strings"

	"github.com/shopspring/decimal"
)

// OrderItem is one line of a confirmation email.
type OrderItem struct {
	ProductID string
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
}

func (i OrderItem) label() string {
	if i.Name == "" {
		return i.ProductID
	}
	return i.Name
}

func (i OrderItem) lineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// OrderConfirmation is everything the confirmation email shows.
type OrderConfirmation struct {
	To             string
	OrderID        string
	TrackingID     string
	Items          []OrderItem
	Subtotal       decimal.Decimal
	Discount       decimal.Decimal
	CouponUsed     string
	DeliveryCharge decimal.Decimal
	Total          decimal.Decimal
	PaymentMethod  string
	Address        string
}

// OrderCancellation is everything the cancellation email shows.
type OrderCancellation struct {
	To         string
	OrderID    string
	TrackingID string
}

var funcs = template.FuncMap{
	"money": FormatMoney,
	"label": OrderItem.label,
	"line":  OrderItem.lineTotal,
	"lines": func(s string) []string { return strings.Split(s, "\n") },
}

var confirmationTmpl = template.Must(template.New("confirmation").Funcs(funcs).Parse(`<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<div style="background: #2d6cdf; padding: 30px; border-radius: 10px 10px 0 0;">
		<h1 style="color: white; margin: 0; font-size: 24px;">Thank you for your order</h1>
	</div>

	<div style="background: #fff; padding: 30px; border: 1px solid #eee; border-top: none; border-radius: 0 0 10px 10px;">
		<div style="background: #f8f9fa; padding: 15px; border-radius: 5px; margin: 20px 0;">
			<p style="margin: 0; font-size: 14px; color: #666;">Tracking ID</p>
			<p style="margin: 5px 0 0 0; font-size: 18px; font-weight: bold; font-family: monospace;">{{.TrackingID}}</p>
			<p style="margin: 5px 0 0 0; font-size: 12px; color: #999;">Order {{.OrderID}}</p>
		</div>

		<table style="width: 100%; border-collapse: collapse; margin: 20px 0;">
			<thead>
				<tr style="background: #f8f9fa;">
					<th style="padding: 12px; text-align: left;">Item</th>
					<th style="padding: 12px; text-align: center;">Qty</th>
					<th style="padding: 12px; text-align: right;">Price</th>
					<th style="padding: 12px; text-align: right;">Total</th>
				</tr>
			</thead>
			<tbody>
			{{- range .Items}}
				<tr>
					<td style="padding: 12px; border-bottom: 1px solid #eee;">{{label .}}</td>
					<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: center;">{{.Quantity}}</td>
					<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: right;">{{money .UnitPrice}}</td>
					<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: right;">{{money (line .)}}</td>
				</tr>
			{{- end}}
			</tbody>
		</table>

		<table style="width: 100%; margin: 20px 0;">
			<tr><td>Subtotal</td><td style="text-align: right;">{{money .Subtotal}}</td></tr>
			{{- if .Discount.IsPositive}}
			<tr><td>Discount{{if .CouponUsed}} ({{.CouponUsed}}){{end}}</td><td style="text-align: right;">-{{money .Discount}}</td></tr>
			{{- end}}
			<tr><td>Delivery</td><td style="text-align: right;">{{if .DeliveryCharge.IsZero}}Free{{else}}{{money .DeliveryCharge}}{{end}}</td></tr>
			<tr><td><strong>Total</strong></td><td style="text-align: right; font-size: 20px; font-weight: bold; color: #2d6cdf;">{{money .Total}}</td></tr>
		</table>

		<p style="margin: 0; font-size: 14px; color: #666;">Payment: {{.PaymentMethod}}</p>
		<p style="font-size: 14px; color: #666;">Delivering to:<br>{{range $i, $l := lines .Address}}{{if $i}}<br>{{end}}{{$l}}{{end}}</p>

		<hr style="border: none; border-top: 1px solid #eee; margin: 30px 0;">
		<p style="font-size: 12px; color: #999; margin-bottom: 0;">This is an automated message.</p>
	</div>
</body>
</html>`))

var cancellationTmpl = template.Must(template.New("cancellation").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<h1 style="font-size: 22px;">Your order has been cancelled</h1>
	<p>Order <strong style="font-family: monospace;">{{.TrackingID}}</strong> was cancelled as requested.</p>
	<p style="font-size: 12px; color: #999;">Order {{.OrderID}}. If you did not request this, please contact support.</p>
</body>
</html>`))

// BuildOrderConfirmationBody renders the HTML body of a confirmation email.
func BuildOrderConfirmationBody(c OrderConfirmation) (string, error) {
	var buf bytes.Buffer
	if err := confirmationTmpl.Execute(&buf, c); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// BuildCancellationBody renders the HTML body of a cancellation email.
func BuildCancellationBody(c OrderCancellation) (string, error) {
	var buf bytes.Buffer
	if err := cancellationTmpl.Execute(&buf, c); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// FormatMoney renders an amount in rupees with two decimals and comma
// separators, e.g. ₹1,298.00.
func FormatMoney(d decimal.Decimal) string {
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Neg()
	}
	fixed := d.StringFixed(2)
	whole, frac, _ := strings.Cut(fixed, ".")
	return sign + "₹" + groupThousands(whole) + "." + frac
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}

	var result strings.Builder
	remainder := len(digits) % 3
	if remainder > 0 {
		result.WriteString(digits[:remainder])
	}
	for i := remainder; i < len(digits); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(digits[i : i+3])
	}
	return result.String()
}
