package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type CommissionType string

const (
	CommissionPercentage CommissionType = "percentage"
	CommissionFixed      CommissionType = "fixed"
)

// Program holds a merchant's commission rules.
type Program struct {
	ID                    string              `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	Shop                  string              `gorm:"type:varchar(255);not null;index" json:"shop"`
	Name                  string              `gorm:"type:varchar(255);not null" json:"name"`
	Description           string              `gorm:"type:text" json:"description,omitempty"`
	CommissionType        CommissionType      `gorm:"type:varchar(16);not null" json:"commission_type"`
	CommissionValue       decimal.Decimal     `gorm:"type:numeric(12,2);not null" json:"commission_value"`
	MinimumOrderValue     decimal.NullDecimal `gorm:"type:numeric(12,2)" json:"minimum_order_value"`
	MaximumCommission     decimal.NullDecimal `gorm:"type:numeric(12,2)" json:"maximum_commission"`
	IsActive              bool                `gorm:"not null" json:"is_active"`
	AllowSelfRegistration bool                `gorm:"not null" json:"allow_self_registration"`
	// ClosedAt is set once a program is retired for good. A closed program
	// never reactivates and its pending referrals are expired.
	ClosedAt *time.Time `json:"closed_at,omitempty"`

	Referrals []Referral `gorm:"foreignKey:ProgramID" json:"referrals,omitempty"`

	Timestamps
}

func (p *Program) Closed() bool {
	return p.ClosedAt != nil
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
