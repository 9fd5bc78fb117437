package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ReferralStatus string

const (
	ReferralPending   ReferralStatus = "pending"
	ReferralConverted ReferralStatus = "converted"
	ReferralExpired   ReferralStatus = "expired"
)

// Referral is one referrer's trackable code within one program.
// A referral credits at most one order; once converted it is never rewritten.
type Referral struct {
	ID        string   `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	Shop      string   `gorm:"type:varchar(255);not null;index" json:"shop"`
	ProgramID string   `gorm:"type:uuid;not null;index" json:"program_id"`
	Program   *Program `gorm:"foreignKey:ProgramID" json:"program,omitempty"`

	// Registered referrers point at their account; legacy and guest referrers
	// only carry contact details. Use Referrer()/SetReferrer() instead of the raw columns.
	ReferrerAccountID  *string `gorm:"type:uuid;index" json:"referrer_account_id,omitempty"`
	ReferrerCustomerID *string `gorm:"type:varchar(64);index" json:"referrer_customer_id,omitempty"`
	ReferrerEmail      string  `gorm:"type:varchar(255);index" json:"referrer_email,omitempty"`
	ReferrerName       string  `gorm:"type:varchar(255)" json:"referrer_name,omitempty"`

	ReferralCode string         `gorm:"type:varchar(16);not null;uniqueIndex" json:"referral_code"`
	ReferralLink string         `gorm:"type:text" json:"referral_link"`
	Status       ReferralStatus `gorm:"type:varchar(16);not null;default:pending;index" json:"status"`

	ClickCount    int64      `gorm:"not null;default:0" json:"click_count"`
	LastClickedAt *time.Time `gorm:"index" json:"last_clicked_at,omitempty"`

	// Set once, on conversion
	OrderID          *string             `gorm:"type:varchar(64);index" json:"order_id,omitempty"`
	OrderValue       decimal.NullDecimal `gorm:"type:numeric(12,2)" json:"order_value"`
	CommissionAmount decimal.NullDecimal `gorm:"type:numeric(12,2)" json:"commission_amount"`
	ConvertedAt      *time.Time          `json:"converted_at,omitempty"`

	RefereeCustomerID *string `gorm:"type:varchar(64)" json:"referee_customer_id,omitempty"`
	RefereeEmail      *string `gorm:"type:varchar(255);index" json:"referee_email,omitempty"`
	RefereeName       *string `gorm:"type:varchar(255)" json:"referee_name,omitempty"`

	Timestamps
}

// ReferralClick is an append-only visit record.
type ReferralClick struct {
	ID         string    `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	ReferralID string    `gorm:"type:uuid;not null;index" json:"referral_id"`
	ClickedAt  time.Time `gorm:"not null;index" json:"clicked_at"`
	IPAddress  string    `gorm:"type:varchar(64)" json:"ip_address"`
	UserAgent  string    `gorm:"type:text" json:"user_agent"`
	Referer    *string   `gorm:"type:text" json:"referer,omitempty"`
}

// Conversion is the data written onto a referral when an order is credited to it.
type Conversion struct {
	OrderID           string
	OrderValue        decimal.Decimal
	Commission        decimal.Decimal
	ConvertedAt       time.Time
	RefereeCustomerID string
	RefereeEmail      string
	RefereeName       string
}
