package repository

import (
	"context"
	"errors"
	"time"

	"referral-engine/models"

	"gorm.io/gorm"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrDuplicateCode  = errors.New("referral code already exists")
	ErrDuplicateEmail = errors.New("referrer email already registered for shop")
)

type ProgramRepository interface {
	Create(ctx context.Context, program *models.Program) error
	FindByID(ctx context.Context, id string) (*models.Program, error)
	ListByShop(ctx context.Context, shop string) ([]models.Program, error)
	FindSelfRegistration(ctx context.Context, shop string) (*models.Program, error)
	SetActive(ctx context.Context, id string, active bool) error
	// Close deactivates the program and stamps closed_at. Closing twice keeps
	// the first timestamp.
	Close(ctx context.Context, id string, at time.Time) error
}

type ReferrerRepository interface {
	Create(ctx context.Context, account *models.ReferrerAccount) error
	FindByID(ctx context.Context, id string) (*models.ReferrerAccount, error)
	FindByEmail(ctx context.Context, shop, email string) (*models.ReferrerAccount, error)
	MarkVerified(ctx context.Context, id string) error
	IncrementReferrals(ctx context.Context, id string) error
}

type ReferralRepository interface {
	// Create fails with ErrDuplicateCode when the code is already taken.
	Create(ctx context.Context, referral *models.Referral) error
	CodeExists(ctx context.Context, code string) (bool, error)
	FindByID(ctx context.Context, id string) (*models.Referral, error)
	// FindByCode loads the referral together with its Program.
	FindByCode(ctx context.Context, code string) (*models.Referral, error)
	FindForReferrer(ctx context.Context, programID string, referrer models.Referrer) (*models.Referral, error)
	ListByProgram(ctx context.Context, programID string) ([]models.Referral, error)
	ListForAccount(ctx context.Context, accountID string) ([]models.Referral, error)
	// RecordClick appends the click and bumps the click counters in one transaction.
	RecordClick(ctx context.Context, click *models.ReferralClick) error
	// FindRecentlyClickedByEmail returns the pending referral with the most
	// recent click since the given time whose referrer or referee email matches.
	FindRecentlyClickedByEmail(ctx context.Context, shop, email string, since time.Time) (*models.Referral, error)
	// MarkConverted converts the referral only if it is still pending and
	// credits the owning account in the same transaction. It reports whether
	// this call performed the transition.
	MarkConverted(ctx context.Context, referral *models.Referral, conv models.Conversion) (bool, error)
	// ExpirePendingForClosedPrograms expires pending referrals of closed
	// programs. Paused programs keep theirs.
	ExpirePendingForClosedPrograms(ctx context.Context) (int64, error)
}

type WebhookDeliveryRepository interface {
	Seen(ctx context.Context, topic, deliveryID string) (bool, error)
	Record(ctx context.Context, delivery *models.WebhookDelivery) error
}

type Repositories struct {
	Programs   ProgramRepository
	Referrers  ReferrerRepository
	Referrals  ReferralRepository
	Deliveries WebhookDeliveryRepository
}

func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Programs:   &programRepository{db: db},
		Referrers:  &referrerRepository{db: db},
		Referrals:  &referralRepository{db: db},
		Deliveries: &deliveryRepository{db: db},
	}
}

// Models lists every table owned by the repositories, in migration order.
func Models() []interface{} {
	return []interface{}{
		&models.Program{},
		&models.ReferrerAccount{},
		&models.Referral{},
		&models.ReferralClick{},
		&models.WebhookDelivery{},
	}
}

func translate(err error, duplicate error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case duplicate != nil && errors.Is(err, gorm.ErrDuplicatedKey):
		return duplicate
	default:
		return err
	}
}
