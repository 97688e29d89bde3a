package order

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

var ErrAddressRequired = errors.New("address is required")

// Address is the structured delivery address.
type Address struct {
	HouseNumber string `json:"houseNumber"`
	Locality    string `json:"locality"`
	Landmark    string `json:"landmark"`
	District    string `json:"district"`
	State       string `json:"state"`
	Pincode     string `json:"pincode"`
}

// Format joins the non-empty fields with newlines in a fixed order.
func (a Address) Format() string {
	parts := make([]string, 0, 6)
	for _, f := range []string{a.HouseNumber, a.Locality, a.Landmark, a.District, a.State, a.Pincode} {
		if f = strings.TrimSpace(f); f != "" {
			parts = append(parts, f)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// AddressInput accepts either a pre-formatted string or an Address object.
type AddressInput struct {
	Text   string
	Fields *Address
}

func (a *AddressInput) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*a = AddressInput{}
		return nil
	}
	if b[0] == '"' {
		return json.Unmarshal(b, &a.Text)
	}
	var f Address
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	a.Fields = &f
	return nil
}

func (a AddressInput) MarshalJSON() ([]byte, error) {
	if a.Fields != nil {
		return json.Marshal(a.Fields)
	}
	return json.Marshal(a.Text)
}

// Normalize returns the stored address text. Strings pass through verbatim.
func (a AddressInput) Normalize() (string, error) {
	var s string
	if a.Fields != nil {
		s = a.Fields.Format()
	} else {
		if strings.TrimSpace(a.Text) == "" {
			return "", ErrAddressRequired
		}
		s = a.Text
	}
	if s == "" {
		return "", ErrAddressRequired
	}
	return s, nil
}
