package repository

import (
	"context"
	"fmt"
	"time"

	"referral-engine/models"

	"gorm.io/gorm"
)

type programRepository struct {
	db *gorm.DB
}

func (r *programRepository) Create(ctx context.Context, program *models.Program) error {
	if err := r.db.WithContext(ctx).Create(program).Error; err != nil {
		return fmt.Errorf("create program: %w", err)
	}
	return nil
}

func (r *programRepository) FindByID(ctx context.Context, id string) (*models.Program, error) {
	var program models.Program
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&program).Error; err != nil {
		return nil, translate(err, nil)
	}
	return &program, nil
}

func (r *programRepository) ListByShop(ctx context.Context, shop string) ([]models.Program, error) {
	var programs []models.Program
	err := r.db.WithContext(ctx).
		Where("shop = ?", shop).
		Order("created_at DESC").
		Find(&programs).Error
	if err != nil {
		return nil, fmt.Errorf("list programs: %w", err)
	}
	return programs, nil
}

// FindSelfRegistration returns the oldest active program of the shop that accepts self-registration.
func (r *programRepository) FindSelfRegistration(ctx context.Context, shop string) (*models.Program, error) {
	var program models.Program
	err := r.db.WithContext(ctx).
		Where("shop = ? AND is_active = ? AND allow_self_registration = ?", shop, true, true).
		Order("created_at ASC").
		Take(&program).Error
	if err != nil {
		return nil, translate(err, nil)
	}
	return &program, nil
}

func (r *programRepository) SetActive(ctx context.Context, id string, active bool) error {
	res := r.db.WithContext(ctx).Model(&models.Program{}).Where("id = ?", id).Update("is_active", active)
	if res.Error != nil {
		return fmt.Errorf("update program status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *programRepository) Close(ctx context.Context, id string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.Program{}).Where("id = ?", id).Updates(map[string]interface{}{
		"is_active": false,
		"closed_at": gorm.Expr("COALESCE(closed_at, ?)", at),
	})
	if res.Error != nil {
		return fmt.Errorf("close program: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
