package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"referral-engine/models"

	"gorm.io/gorm"
)

type referralRepository struct {
	db *gorm.DB
}

func (r *referralRepository) Create(ctx context.Context, referral *models.Referral) error {
	if err := r.db.WithContext(ctx).Omit("Program").Create(referral).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateCode
		}
		return fmt.Errorf("create referral: %w", err)
	}
	return nil
}

func (r *referralRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Unscoped().Model(&models.Referral{}).
		Where("referral_code = ?", code).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check referral code: %w", err)
	}
	return count > 0, nil
}

func (r *referralRepository) FindByID(ctx context.Context, id string) (*models.Referral, error) {
	var referral models.Referral
	err := r.db.WithContext(ctx).Preload("Program").Where("id = ?", id).Take(&referral).Error
	if err != nil {
		return nil, translate(err, nil)
	}
	return &referral, nil
}

func (r *referralRepository) FindByCode(ctx context.Context, code string) (*models.Referral, error) {
	var referral models.Referral
	err := r.db.WithContext(ctx).Preload("Program").Where("referral_code = ?", code).Take(&referral).Error
	if err != nil {
		return nil, translate(err, nil)
	}
	return &referral, nil
}

func (r *referralRepository) FindForReferrer(ctx context.Context, programID string, referrer models.Referrer) (*models.Referral, error) {
	q := r.db.WithContext(ctx).Preload("Program").Where("program_id = ?", programID)
	switch ref := referrer.(type) {
	case models.RegisteredReferrer:
		q = q.Where("referrer_account_id = ?", ref.AccountID)
	case models.UnattachedReferrer:
		if ref.CustomerID == "" {
			return nil, ErrNotFound
		}
		q = q.Where("referrer_customer_id = ?", ref.CustomerID)
	default:
		return nil, ErrNotFound
	}

	var referral models.Referral
	if err := q.Order("created_at ASC").Take(&referral).Error; err != nil {
		return nil, translate(err, nil)
	}
	return &referral, nil
}

func (r *referralRepository) ListByProgram(ctx context.Context, programID string) ([]models.Referral, error) {
	var referrals []models.Referral
	err := r.db.WithContext(ctx).
		Where("program_id = ?", programID).
		Order("created_at DESC").
		Find(&referrals).Error
	if err != nil {
		return nil, fmt.Errorf("list referrals: %w", err)
	}
	return referrals, nil
}

func (r *referralRepository) ListForAccount(ctx context.Context, accountID string) ([]models.Referral, error) {
	var referrals []models.Referral
	err := r.db.WithContext(ctx).
		Preload("Program").
		Where("referrer_account_id = ?", accountID).
		Order("created_at ASC").
		Find(&referrals).Error
	if err != nil {
		return nil, fmt.Errorf("list account referrals: %w", err)
	}
	return referrals, nil
}

func (r *referralRepository) RecordClick(ctx context.Context, click *models.ReferralClick) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(click).Error; err != nil {
			return fmt.Errorf("insert click: %w", err)
		}
		res := tx.Model(&models.Referral{}).
			Where("id = ?", click.ReferralID).
			Updates(map[string]interface{}{
				"click_count":     gorm.Expr("click_count + 1"),
				"last_clicked_at": click.ClickedAt,
			})
		if res.Error != nil {
			return fmt.Errorf("increment click count: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *referralRepository) FindRecentlyClickedByEmail(ctx context.Context, shop, email string, since time.Time) (*models.Referral, error) {
	email = models.NormalizeEmail(email)
	accounts := r.db.Model(&models.ReferrerAccount{}).Select("id").Where("shop = ? AND email = ?", shop, email)

	var referral models.Referral
	err := r.db.WithContext(ctx).
		Preload("Program").
		Where("shop = ? AND status = ? AND last_clicked_at >= ?", shop, models.ReferralPending, since).
		Where(
			r.db.Where("LOWER(referrer_email) = ?", email).
				Or("LOWER(referee_email) = ?", email).
				Or("referrer_account_id IN (?)", accounts),
		).
		Order("last_clicked_at DESC").
		Take(&referral).Error
	if err != nil {
		return nil, translate(err, nil)
	}
	return &referral, nil
}

func (r *referralRepository) MarkConverted(ctx context.Context, referral *models.Referral, conv models.Conversion) (bool, error) {
	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"status":            models.ReferralConverted,
			"order_id":          conv.OrderID,
			"order_value":       conv.OrderValue,
			"commission_amount": conv.Commission,
			"converted_at":      conv.ConvertedAt,
		}
		if conv.RefereeCustomerID != "" {
			updates["referee_customer_id"] = conv.RefereeCustomerID
		}
		if conv.RefereeEmail != "" {
			updates["referee_email"] = conv.RefereeEmail
		}
		if conv.RefereeName != "" {
			updates["referee_name"] = conv.RefereeName
		}

		res := tx.Model(&models.Referral{}).
			Where("id = ? AND status = ?", referral.ID, models.ReferralPending).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("convert referral: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true

		registered, ok := referral.Referrer().(models.RegisteredReferrer)
		if !ok {
			return nil
		}
		err := tx.Model(&models.ReferrerAccount{}).
			Where("id = ?", registered.AccountID).
			Updates(map[string]interface{}{
				"total_conversions":       gorm.Expr("total_conversions + 1"),
				"total_commission_earned": gorm.Expr("total_commission_earned + ?", conv.Commission),
			}).Error
		if err != nil {
			return fmt.Errorf("credit referrer: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (r *referralRepository) ExpirePendingForClosedPrograms(ctx context.Context) (int64, error) {
	closed := r.db.Model(&models.Program{}).Select("id").Where("closed_at IS NOT NULL")
	res := r.db.WithContext(ctx).Model(&models.Referral{}).
		Where("status = ? AND program_id IN (?)", models.ReferralPending, closed).
		Update("status", models.ReferralExpired)
	if res.Error != nil {
		return 0, fmt.Errorf("expire referrals: %w", res.Error)
	}
	return res.RowsAffected, nil
}
