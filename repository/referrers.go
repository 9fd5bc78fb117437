package repository

import (
	"context"
	"errors"
	"fmt"

	"referral-engine/models"

	"gorm.io/gorm"
)

type referrerRepository struct {
	db *gorm.DB
}

func (r *referrerRepository) Create(ctx context.Context, account *models.ReferrerAccount) error {
	account.Email = models.NormalizeEmail(account.Email)
	if err := r.db.WithContext(ctx).Create(account).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("create referrer: %w", err)
	}
	return nil
}

func (r *referrerRepository) FindByID(ctx context.Context, id string) (*models.ReferrerAccount, error) {
	var account models.ReferrerAccount
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&account).Error; err != nil {
		return nil, translate(err, nil)
	}
	return &account, nil
}

func (r *referrerRepository) FindByEmail(ctx context.Context, shop, email string) (*models.ReferrerAccount, error) {
	var account models.ReferrerAccount
	err := r.db.WithContext(ctx).
		Where("shop = ? AND email = ?", shop, models.NormalizeEmail(email)).
		Take(&account).Error
	if err != nil {
		return nil, translate(err, nil)
	}
	return &account, nil
}

func (r *referrerRepository) MarkVerified(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&models.ReferrerAccount{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_email_verified":        true,
			"email_verification_token": "",
		})
	if res.Error != nil {
		return fmt.Errorf("verify referrer: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *referrerRepository) IncrementReferrals(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Model(&models.ReferrerAccount{}).
		Where("id = ?", id).
		Update("total_referrals", gorm.Expr("total_referrals + 1")).Error
	if err != nil {
		return fmt.Errorf("increment referrals: %w", err)
	}
	return nil
}
