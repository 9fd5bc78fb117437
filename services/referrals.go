package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"referral-engine/models"
	"referral-engine/repository"
	"referral-engine/utils"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	ErrProgramNotFound          = errors.New("program not found")
	ErrProgramClosed            = errors.New("program is closed")
	ErrReferrerNotFound         = errors.New("referrer not found")
	ErrReferralNotFound         = errors.New("referral not found")
	ErrSelfRegistrationClosed   = errors.New("no active program accepts self-registration")
	ErrInvalidVerificationToken = errors.New("invalid verification token")
)

// ReferralService covers the admin and registration flows that create the
// programs, referrers and referrals the engine works on.
type ReferralService struct {
	Repos         *repository.Repositories
	Codes         *CodeGenerator
	Notifier      Notifier
	NotifyTimeout time.Duration
	AppURL        string
	validate      *validator.Validate
}

func NewReferralService(repos *repository.Repositories, codes *CodeGenerator, notifier Notifier, appURL string, notifyTimeout time.Duration) *ReferralService {
	return &ReferralService{
		Repos:         repos,
		Codes:         codes,
		Notifier:      notifier,
		NotifyTimeout: notifyTimeout,
		AppURL:        appURL,
		validate:      validator.New(),
	}
}

// ValidationError carries the failed field rules of an input.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, rule := range e.Fields {
		parts = append(parts, field+": "+rule)
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func (s *ReferralService) check(input interface{}) error {
	err := s.validate.Struct(input)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{Fields: map[string]string{}}
	for _, fe := range verrs {
		out.Fields[fe.Field()] = fe.Tag()
	}
	return out
}

type CreateProgramInput struct {
	Shop                  string              `json:"-" validate:"required"`
	Name                  string              `json:"name" validate:"required,max=255"`
	Description           string              `json:"description" validate:"max=2000"`
	CommissionType        string              `json:"commission_type" validate:"required,oneof=percentage fixed"`
	CommissionValue       decimal.Decimal     `json:"commission_value"`
	MinimumOrderValue     decimal.NullDecimal `json:"minimum_order_value"`
	MaximumCommission     decimal.NullDecimal `json:"maximum_commission"`
	IsActive              *bool               `json:"is_active"`
	AllowSelfRegistration bool                `json:"allow_self_registration"`
}

func (s *ReferralService) CreateProgram(ctx context.Context, in CreateProgramInput) (*models.Program, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	program := &models.Program{
		ID:                    uuid.NewString(),
		Shop:                  in.Shop,
		Name:                  strings.TrimSpace(in.Name),
		Description:           in.Description,
		CommissionType:        models.CommissionType(in.CommissionType),
		CommissionValue:       in.CommissionValue,
		MinimumOrderValue:     in.MinimumOrderValue,
		MaximumCommission:     in.MaximumCommission,
		IsActive:              in.IsActive == nil || *in.IsActive,
		AllowSelfRegistration: in.AllowSelfRegistration,
	}
	if err := ValidateProgram(program); err != nil {
		return nil, err
	}
	if err := s.Repos.Programs.Create(ctx, program); err != nil {
		return nil, err
	}
	utils.Log.WithFields(logrus.Fields{"shop": program.Shop, "program_id": program.ID}).Info("✅ [PROGRAM] created")
	return program, nil
}

func (s *ReferralService) ListPrograms(ctx context.Context, shop string) ([]models.Program, error) {
	return s.Repos.Programs.ListByShop(ctx, shop)
}

// SetProgramActive pauses or resumes a program. A paused program stops
// tracking and converting but keeps its pending referrals, so resuming it
// picks up where it left off. Closed programs cannot be resumed.
func (s *ReferralService) SetProgramActive(ctx context.Context, shop, programID string, active bool) (*models.Program, error) {
	program, err := s.shopProgram(ctx, shop, programID)
	if err != nil {
		return nil, err
	}
	if program.Closed() {
		if !active {
			return program, nil
		}
		return nil, ErrProgramClosed
	}
	if err := s.Repos.Programs.SetActive(ctx, program.ID, active); err != nil {
		return nil, err
	}
	program.IsActive = active
	return program, nil
}

// CloseProgram retires a program for good and expires its pending referrals.
// Closing an already closed program is a no-op.
func (s *ReferralService) CloseProgram(ctx context.Context, shop, programID string) (*models.Program, error) {
	program, err := s.shopProgram(ctx, shop, programID)
	if err != nil {
		return nil, err
	}
	if program.Closed() {
		return program, nil
	}
	closedAt := time.Now().UTC()
	if err := s.Repos.Programs.Close(ctx, program.ID, closedAt); err != nil {
		return nil, err
	}
	program.IsActive = false
	program.ClosedAt = &closedAt

	log := utils.Log.WithFields(logrus.Fields{"shop": shop, "program_id": program.ID})
	expired, err := s.Repos.Referrals.ExpirePendingForClosedPrograms(ctx)
	if err != nil {
		// The expiry sweep retries closed programs.
		log.WithError(err).Warn("⚠️ [PROGRAM] closed but referrals not yet expired")
		return program, nil
	}
	log.WithField("expired", expired).Info("✅ [PROGRAM] closed")
	return program, nil
}

func (s *ReferralService) shopProgram(ctx context.Context, shop, programID string) (*models.Program, error) {
	program, err := s.Repos.Programs.FindByID(ctx, programID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && program.Shop != shop) {
		return nil, ErrProgramNotFound
	}
	if err != nil {
		return nil, err
	}
	return program, nil
}

type CreateReferralInput struct {
	Shop               string `json:"-" validate:"required"`
	ProgramID          string `json:"program_id" validate:"required,uuid"`
	ReferrerAccountID  string `json:"referrer_account_id" validate:"omitempty,uuid"`
	ReferrerCustomerID string `json:"referrer_customer_id" validate:"max=64"`
	ReferrerEmail      string `json:"referrer_email" validate:"required_without=ReferrerAccountID,omitempty,email"`
	ReferrerName       string `json:"referrer_name" validate:"max=255"`
}

// CreateReferral returns the referrer's existing referral in the program when
// there is one; created reports whether a new referral was made.
func (s *ReferralService) CreateReferral(ctx context.Context, in CreateReferralInput) (referral *models.Referral, created bool, err error) {
	if err := s.check(in); err != nil {
		return nil, false, err
	}
	program, err := s.shopProgram(ctx, in.Shop, in.ProgramID)
	if err != nil {
		return nil, false, err
	}

	var referrer models.Referrer
	if in.ReferrerAccountID != "" {
		account, err := s.Repos.Referrers.FindByID(ctx, in.ReferrerAccountID)
		if errors.Is(err, repository.ErrNotFound) || (err == nil && account.Shop != in.Shop) {
			return nil, false, ErrReferrerNotFound
		}
		if err != nil {
			return nil, false, err
		}
		referrer = models.RegisteredReferrer{AccountID: account.ID}
	} else {
		referrer = models.UnattachedReferrer{
			CustomerID: in.ReferrerCustomerID,
			Email:      in.ReferrerEmail,
			Name:       in.ReferrerName,
		}
	}

	existing, err := s.Repos.Referrals.FindForReferrer(ctx, program.ID, referrer)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, err
	}

	referral, err = s.newReferral(ctx, program, referrer)
	if err != nil {
		return nil, false, err
	}
	return referral, true, nil
}

func (s *ReferralService) newReferral(ctx context.Context, program *models.Program, referrer models.Referrer) (*models.Referral, error) {
	referral := &models.Referral{
		Shop:      program.Shop,
		ProgramID: program.ID,
		Status:    models.ReferralPending,
	}
	referral.SetReferrer(referrer)

	link := func(code string) string { return utils.ReferralLink(s.AppURL, program.Shop, code) }
	if err := s.Codes.CreateReferral(ctx, s.Repos.Referrals, referral, link); err != nil {
		return nil, fmt.Errorf("create referral: %w", err)
	}
	referral.Program = program

	if registered, ok := referrer.(models.RegisteredReferrer); ok {
		if err := s.Repos.Referrers.IncrementReferrals(ctx, registered.AccountID); err != nil {
			utils.Log.WithField("referrer_id", registered.AccountID).WithError(err).Warn("⚠️ [REFERRAL] referral counter not updated")
		}
	}
	utils.Log.WithFields(logrus.Fields{"shop": referral.Shop, "referral_code": referral.ReferralCode}).Info("✅ [REFERRAL] created")
	return referral, nil
}

func (s *ReferralService) GetReferralByCode(ctx context.Context, code string) (*models.Referral, error) {
	referral, err := s.Repos.Referrals.FindByCode(ctx, NormalizeCode(code))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrReferralNotFound
	}
	return referral, err
}

func (s *ReferralService) ListReferrals(ctx context.Context, shop, programID string) ([]models.Referral, error) {
	if _, err := s.shopProgram(ctx, shop, programID); err != nil {
		return nil, err
	}
	return s.Repos.Referrals.ListByProgram(ctx, programID)
}

type RegisterReferrerInput struct {
	Shop      string `json:"-" validate:"required"`
	ProgramID string `json:"program_id" validate:"omitempty,uuid"`
	Email     string `json:"email" validate:"required,email,max=255"`
	FirstName string `json:"first_name" validate:"required,max=255"`
	LastName  string `json:"last_name" validate:"max=255"`
	Phone     string `json:"phone" validate:"max=32"`
}

type Registration struct {
	Account  *models.ReferrerAccount `json:"account"`
	Referral *models.Referral        `json:"referral"`
}

// RegisterReferrer signs a referrer up for a self-registration program and
// issues their first referral.
func (s *ReferralService) RegisterReferrer(ctx context.Context, in RegisterReferrerInput) (*Registration, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}

	var program *models.Program
	var err error
	if in.ProgramID != "" {
		program, err = s.shopProgram(ctx, in.Shop, in.ProgramID)
		if err != nil {
			return nil, err
		}
		if !program.IsActive || !program.AllowSelfRegistration {
			return nil, ErrSelfRegistrationClosed
		}
	} else {
		program, err = s.Repos.Programs.FindSelfRegistration(ctx, in.Shop)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSelfRegistrationClosed
		}
		if err != nil {
			return nil, err
		}
	}

	email := models.NormalizeEmail(in.Email)
	if _, err := s.Repos.Referrers.FindByEmail(ctx, in.Shop, email); err == nil {
		return nil, repository.ErrDuplicateEmail
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	token, err := verificationToken()
	if err != nil {
		return nil, err
	}
	account := &models.ReferrerAccount{
		ID:                     uuid.NewString(),
		Shop:                   in.Shop,
		Email:                  email,
		FirstName:              strings.TrimSpace(in.FirstName),
		LastName:               strings.TrimSpace(in.LastName),
		Phone:                  strings.TrimSpace(in.Phone),
		EmailVerificationToken: token,
		IsActive:               true,
	}
	if err := s.Repos.Referrers.Create(ctx, account); err != nil {
		return nil, err
	}

	referral, err := s.newReferral(ctx, program, models.RegisteredReferrer{AccountID: account.ID})
	if err != nil {
		return nil, err
	}
	account.TotalReferrals++

	if s.Notifier != nil {
		notice := WelcomeNotice{
			Shop:              account.Shop,
			RecipientEmail:    account.Email,
			RecipientName:     utils.DisplayName(account.FirstName, account.LastName),
			ReferralCode:      referral.ReferralCode,
			ReferralLink:      referral.ReferralLink,
			VerificationToken: token,
			ProgramName:       program.Name,
			ShopName:          ShopName(account.Shop),
		}
		notifyBestEffort(ctx, s.NotifyTimeout, notifyWelcome, func(ctx context.Context) error {
			return s.Notifier.NotifyRegistrationWelcome(ctx, notice)
		})
	}
	return &Registration{Account: account, Referral: referral}, nil
}

// VerifyReferrer confirms the referrer's email using the token from the welcome notice.
func (s *ReferralService) VerifyReferrer(ctx context.Context, shop, code, token string) (*models.ReferrerAccount, error) {
	referral, err := s.Repos.Referrals.FindByCode(ctx, NormalizeCode(code))
	if errors.Is(err, repository.ErrNotFound) || (err == nil && referral.Shop != shop) {
		return nil, ErrReferralNotFound
	}
	if err != nil {
		return nil, err
	}
	registered, ok := referral.Referrer().(models.RegisteredReferrer)
	if !ok {
		return nil, ErrReferrerNotFound
	}
	account, err := s.Repos.Referrers.FindByID(ctx, registered.AccountID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrReferrerNotFound
	}
	if err != nil {
		return nil, err
	}
	if account.IsEmailVerified {
		return account, nil
	}
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(account.EmailVerificationToken)) != 1 {
		return nil, ErrInvalidVerificationToken
	}
	if err := s.Repos.Referrers.MarkVerified(ctx, account.ID); err != nil {
		return nil, err
	}
	account.IsEmailVerified = true
	account.EmailVerificationToken = ""
	return account, nil
}

type InviteInput struct {
	Email   string `json:"email" validate:"required,email"`
	Name    string `json:"name" validate:"max=255"`
	Message string `json:"message" validate:"max=2000"`
}

// InviteReferee sends a referral link to a prospective customer.
func (s *ReferralService) InviteReferee(ctx context.Context, shop, code string, in InviteInput) (*models.Referral, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	referral, err := s.GetReferralByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if referral.Shop != shop {
		return nil, ErrReferralNotFound
	}
	if s.Notifier == nil {
		return referral, nil
	}

	notice := InvitationNotice{
		Shop:           referral.Shop,
		RecipientEmail: models.NormalizeEmail(in.Email),
		RecipientName:  in.Name,
		ReferrerName:   referral.ReferrerName,
		ReferralLink:   referral.ReferralLink,
		Message:        in.Message,
		ShopName:       ShopName(referral.Shop),
	}
	if referral.Program != nil {
		notice.ProgramName = referral.Program.Name
	}
	if registered, ok := referral.Referrer().(models.RegisteredReferrer); ok {
		if account, err := s.Repos.Referrers.FindByID(ctx, registered.AccountID); err == nil {
			notice.ReferrerName = utils.DisplayName(account.FirstName, account.LastName)
		}
	}
	notifyBestEffort(ctx, s.NotifyTimeout, notifyInvitation, func(ctx context.Context) error {
		return s.Notifier.NotifyInvitation(ctx, notice)
	})
	return referral, nil
}

// ConversionActivity is one credited order in a referrer's dashboard.
type ConversionActivity struct {
	ReferralCode string          `json:"referral_code"`
	OrderID      string          `json:"order_id"`
	OrderValue   decimal.Decimal `json:"order_value"`
	Commission   decimal.Decimal `json:"commission"`
	CustomerName string          `json:"customer_name"`
	ConvertedAt  time.Time       `json:"converted_at"`
}

type Dashboard struct {
	ReferrerName      string               `json:"referrer_name"`
	Email             string               `json:"email"`
	EmailVerified     bool                 `json:"email_verified"`
	ReferralCode      string               `json:"referral_code,omitempty"`
	ReferralLink      string               `json:"referral_link,omitempty"`
	ProgramName       string               `json:"program_name,omitempty"`
	TotalReferrals    int                  `json:"total_referrals"`
	TotalClicks       int64                `json:"total_clicks"`
	TotalConversions  int                  `json:"total_conversions"`
	TotalCommission   decimal.Decimal      `json:"total_commission"`
	RecentConversions []ConversionActivity `json:"recent_conversions"`
}

const dashboardRecentLimit = 10

// ReferrerDashboard summarizes a registered referrer's referrals in one shop.
// The primary referral is the oldest one that has not expired.
func (s *ReferralService) ReferrerDashboard(ctx context.Context, shop, email string) (*Dashboard, error) {
	account, err := s.Repos.Referrers.FindByEmail(ctx, shop, models.NormalizeEmail(email))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrReferrerNotFound
	}
	if err != nil {
		return nil, err
	}
	referrals, err := s.Repos.Referrals.ListForAccount(ctx, account.ID)
	if err != nil {
		return nil, err
	}

	d := &Dashboard{
		ReferrerName:      utils.DisplayName(account.FirstName, account.LastName),
		Email:             account.Email,
		EmailVerified:     account.IsEmailVerified,
		TotalCommission:   decimal.Zero,
		RecentConversions: []ConversionActivity{},
	}
	if d.ReferrerName == "" {
		d.ReferrerName = strings.SplitN(account.Email, "@", 2)[0]
	}

	var primary *models.Referral
	for i := range referrals {
		r := &referrals[i]
		if r.Shop != shop {
			continue
		}
		d.TotalReferrals++
		d.TotalClicks += r.ClickCount
		if primary == nil && r.Status != models.ReferralExpired {
			primary = r
		}
		if r.Status != models.ReferralConverted {
			continue
		}
		d.TotalConversions++
		activity := ConversionActivity{ReferralCode: r.ReferralCode}
		if r.CommissionAmount.Valid {
			activity.Commission = r.CommissionAmount.Decimal
			d.TotalCommission = d.TotalCommission.Add(r.CommissionAmount.Decimal)
		}
		if r.OrderValue.Valid {
			activity.OrderValue = r.OrderValue.Decimal
		}
		if r.OrderID != nil {
			activity.OrderID = *r.OrderID
		}
		if r.RefereeName != nil {
			activity.CustomerName = *r.RefereeName
		}
		if r.ConvertedAt != nil {
			activity.ConvertedAt = *r.ConvertedAt
		}
		d.RecentConversions = append(d.RecentConversions, activity)
	}
	if primary == nil && d.TotalReferrals > 0 {
		for i := range referrals {
			if referrals[i].Shop == shop {
				primary = &referrals[i]
				break
			}
		}
	}
	if primary != nil {
		d.ReferralCode = primary.ReferralCode
		d.ReferralLink = primary.ReferralLink
		if primary.Program != nil {
			d.ProgramName = primary.Program.Name
		}
	}

	sort.Slice(d.RecentConversions, func(i, j int) bool {
		return d.RecentConversions[i].ConvertedAt.After(d.RecentConversions[j].ConvertedAt)
	})
	if len(d.RecentConversions) > dashboardRecentLimit {
		d.RecentConversions = d.RecentConversions[:dashboardRecentLimit]
	}
	return d, nil
}

func verificationToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate verification token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
