package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"referral-engine/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func testConversion() models.Conversion {
	return models.Conversion{
		OrderID:      "1001",
		OrderValue:   decimal.RequireFromString("200.00"),
		Commission:   decimal.RequireFromString("20.00"),
		ConvertedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		RefereeEmail: "buyer@example.com",
	}
}

func TestReferralRepository_MarkConverted(t *testing.T) {
	ctx := context.Background()
	accountID := "7d4b8f0a-1111-4c1e-9a55-0c7a3d2f9e10"

	t.Run("PendingRegisteredReferrer", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := &referralRepository{db: db}
		referral := &models.Referral{ID: "ref-1", ReferrerAccountID: &accountID}

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "referrals" SET .*WHERE \(id = \$\d+ AND status = \$\d+\)`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE "referrer_accounts" SET .*total_commission_earned.*total_commission_earned \+ \$\d+.*total_conversions.*total_conversions \+ 1`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		applied, err := repo.MarkConverted(ctx, referral, testConversion())
		require.NoError(t, err)
		assert.True(t, applied)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("AlreadyConvertedTouchesNothingElse", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := &referralRepository{db: db}
		referral := &models.Referral{ID: "ref-1", ReferrerAccountID: &accountID}

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "referrals" SET`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		applied, err := repo.MarkConverted(ctx, referral, testConversion())
		require.NoError(t, err)
		assert.False(t, applied)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("UnattachedReferrerSkipsAccountCredit", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := &referralRepository{db: db}
		referral := &models.Referral{ID: "ref-2", ReferrerEmail: "guest@example.com"}

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "referrals" SET`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		applied, err := repo.MarkConverted(ctx, referral, testConversion())
		require.NoError(t, err)
		assert.True(t, applied)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("CreditFailureRollsBack", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := &referralRepository{db: db}
		referral := &models.Referral{ID: "ref-1", ReferrerAccountID: &accountID}

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "referrals" SET`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE "referrer_accounts" SET`).
			WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		applied, err := repo.MarkConverted(ctx, referral, testConversion())
		require.Error(t, err)
		assert.False(t, applied)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestReferralRepository_RecordClick(t *testing.T) {
	ctx := context.Background()

	t.Run("InsertsAndIncrements", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := &referralRepository{db: db}

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO "referral_clicks"`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("c2b1a5de-3f0e-4f4e-8f3a-2f1d9c7e6b55"))
		mock.ExpectExec(`UPDATE "referrals" SET "click_count"=click_count \+ 1`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := repo.RecordClick(ctx, &models.ReferralClick{
			ID:         "c2b1a5de-3f0e-4f4e-8f3a-2f1d9c7e6b55",
			ReferralID: "ref-1",
			ClickedAt:  time.Now(),
			IPAddress:  "203.0.113.9",
		})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("MissingReferralRollsBack", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := &referralRepository{db: db}

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO "referral_clicks"`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("0b7f6c51-8f6e-4a57-b3a1-9d55e0e1f2aa"))
		mock.ExpectExec(`UPDATE "referrals"`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := repo.RecordClick(ctx, &models.ReferralClick{
			ID:         "0b7f6c51-8f6e-4a57-b3a1-9d55e0e1f2aa",
			ReferralID: "missing",
			ClickedAt:  time.Now(),
		})
		assert.ErrorIs(t, err, ErrNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestReferralRepository_ExpirePendingForClosedPrograms(t *testing.T) {
	db, mock := newMockDB(t)
	repo := &referralRepository{db: db}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "referrals" SET "status"=\$1.*WHERE \(status = \$\d+ AND program_id IN \(SELECT .*FROM "programs" WHERE closed_at IS NOT NULL`).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	n, err := repo.ExpirePendingForClosedPrograms(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgramRepository_Close(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	t.Run("KeepsFirstClosedAt", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := &programRepository{db: db}

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "programs" SET "closed_at"=COALESCE\(closed_at, \$1\),"is_active"=\$2,"updated_at"=\$3 WHERE id = \$4`).
			WithArgs(sqlmock.AnyArg(), false, sqlmock.AnyArg(), "prog-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, repo.Close(ctx, "prog-1", at))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Missing", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := &programRepository{db: db}

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "programs" SET`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		assert.ErrorIs(t, repo.Close(ctx, "nope", at), ErrNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
