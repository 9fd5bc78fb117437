package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ReferrerAccount is a self-registered or merchant-created referrer.
// Emails are stored lowercased so the (shop, email) index is case-insensitive.
type ReferrerAccount struct {
	ID                     string  `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	Shop                   string  `gorm:"type:varchar(255);not null;uniqueIndex:idx_referrer_shop_email" json:"shop"`
	Email                  string  `gorm:"type:varchar(255);not null;uniqueIndex:idx_referrer_shop_email" json:"email"`
	FirstName              string  `gorm:"type:varchar(255)" json:"first_name"`
	LastName               string  `gorm:"type:varchar(255)" json:"last_name"`
	Phone                  string  `gorm:"type:varchar(32)" json:"phone,omitempty"`
	ShopifyCustomerID      *string `gorm:"type:varchar(64);index" json:"shopify_customer_id,omitempty"`
	EmailVerificationToken string  `gorm:"type:varchar(64)" json:"-"`
	IsEmailVerified        bool    `gorm:"not null" json:"is_email_verified"`
	IsActive               bool    `gorm:"not null" json:"is_active"`

	TotalReferrals        int64           `gorm:"not null;default:0" json:"total_referrals"`
	TotalConversions      int64           `gorm:"not null;default:0" json:"total_conversions"`
	TotalCommissionEarned decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"total_commission_earned"`
	TotalCommissionPaid   decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"total_commission_paid"`

	Timestamps
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Referrer identifies who owns a referral: either a RegisteredReferrer or an
// UnattachedReferrer. Switch on the concrete type.
type Referrer interface {
	isReferrer()
}

// RegisteredReferrer owns a ReferrerAccount and accumulates counters on it.
type RegisteredReferrer struct {
	AccountID string
}

// UnattachedReferrer is a guest or legacy referrer known only by contact details.
type UnattachedReferrer struct {
	CustomerID string
	Email      string
	Name       string
}

func (RegisteredReferrer) isReferrer() {}
func (UnattachedReferrer) isReferrer() {}

func (r *Referral) Referrer() Referrer {
	if r.ReferrerAccountID != nil && *r.ReferrerAccountID != "" {
		return RegisteredReferrer{AccountID: *r.ReferrerAccountID}
	}
	u := UnattachedReferrer{Email: r.ReferrerEmail, Name: r.ReferrerName}
	if r.ReferrerCustomerID != nil {
		u.CustomerID = *r.ReferrerCustomerID
	}
	return u
}

func (r *Referral) SetReferrer(ref Referrer) {
	switch v := ref.(type) {
	case RegisteredReferrer:
		id := v.AccountID
		r.ReferrerAccountID = &id
		r.ReferrerCustomerID = nil
	case UnattachedReferrer:
		r.ReferrerAccountID = nil
		r.ReferrerCustomerID = nil
		if v.CustomerID != "" {
			id := v.CustomerID
			r.ReferrerCustomerID = &id
		}
		r.ReferrerEmail = NormalizeEmail(v.Email)
		r.ReferrerName = v.Name
	}
}
