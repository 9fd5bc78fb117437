package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderEvent_Decode(t *testing.T) {
	payload := `{
		"id": 820982911946154508,
		"email": "Fallback@Example.com",
		"total_price": "199.99",
		"currency": "USD",
		"customer": {"id": "115310627314723954", "email": " Jane@Example.COM ", "first_name": "Jane", "last_name": "Doe"},
		"note_attributes": [{"name": "ref", "value": "ABCD2345"}],
		"landing_site": "/?ref=ABCD2345"
	}`

	var order OrderEvent
	require.NoError(t, json.Unmarshal([]byte(payload), &order))
	assert.Equal(t, "820982911946154508", order.ID.String())
	assert.Equal(t, "199.99", order.TotalPrice.StringFixed(2))
	assert.Equal(t, "115310627314723954", order.CustomerID())
	assert.Equal(t, "jane@example.com", order.CustomerEmail())
	assert.Equal(t, "Jane Doe", order.CustomerName())
	require.Len(t, order.NoteAttributes, 1)
	assert.Equal(t, "ABCD2345", order.NoteAttributes[0].Value)
}

func TestOrderEvent_GuestCheckout(t *testing.T) {
	var order OrderEvent
	require.NoError(t, json.Unmarshal([]byte(`{"id":"1001","email":"Guest@Example.com","total_price":12.5,"customer":null}`), &order))
	assert.Equal(t, "1001", order.ID.String())
	assert.Equal(t, "guest@example.com", order.CustomerEmail())
	assert.Empty(t, order.CustomerID())
	assert.Empty(t, order.CustomerName())
	assert.Equal(t, "12.50", order.TotalPrice.StringFixed(2))
}

func TestFlexibleID(t *testing.T) {
	var id FlexibleID
	require.NoError(t, json.Unmarshal([]byte(`null`), &id))
	assert.Empty(t, id)

	require.NoError(t, json.Unmarshal([]byte(`" 42 "`), &id))
	assert.Equal(t, FlexibleID("42"), id)

	assert.Error(t, json.Unmarshal([]byte(`{}`), &id))
}

func TestReferral_SetReferrer(t *testing.T) {
	r := &Referral{}
	r.SetReferrer(UnattachedReferrer{CustomerID: "7", Email: " Ada@Example.com ", Name: "Ada"})
	assert.Equal(t, UnattachedReferrer{CustomerID: "7", Email: "ada@example.com", Name: "Ada"}, r.Referrer())

	r.SetReferrer(RegisteredReferrer{AccountID: "acct-1"})
	assert.Equal(t, RegisteredReferrer{AccountID: "acct-1"}, r.Referrer())
	assert.Nil(t, r.ReferrerCustomerID)
}
