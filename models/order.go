package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// FlexibleID decodes identifiers that arrive either as JSON numbers or strings.
type FlexibleID string

func (id *FlexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = FlexibleID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", string(data), err)
	}
	*id = FlexibleID(n.String())
	return nil
}

func (id FlexibleID) String() string { return string(id) }

// OrderEvent is the subset of an order-paid webhook payload the engine reads.
type OrderEvent struct {
	ID             FlexibleID      `json:"id"`
	Name           string          `json:"name"`
	Email          string          `json:"email"`
	TotalPrice     decimal.Decimal `json:"total_price"`
	Currency       string          `json:"currency"`
	Customer       *OrderCustomer  `json:"customer"`
	NoteAttributes []NoteAttribute `json:"note_attributes"`
	LandingSite    string          `json:"landing_site"`
}

type OrderCustomer struct {
	ID         FlexibleID  `json:"id"`
	Email      string      `json:"email"`
	FirstName  string      `json:"first_name"`
	LastName   string      `json:"last_name"`
	Metafields []Metafield `json:"metafields"`
}

type NoteAttribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Metafield struct {
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Value     string `json:"value"`
}

// CustomerEmail prefers the customer record and falls back to the order contact email.
func (o *OrderEvent) CustomerEmail() string {
	if o.Customer != nil && o.Customer.Email != "" {
		return NormalizeEmail(o.Customer.Email)
	}
	return NormalizeEmail(o.Email)
}

func (o *OrderEvent) CustomerID() string {
	if o.Customer == nil {
		return ""
	}
	return o.Customer.ID.String()
}

func (o *OrderEvent) CustomerName() string {
	if o.Customer == nil {
		return ""
	}
	return strings.TrimSpace(o.Customer.FirstName + " " + o.Customer.LastName)
}
