package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"referral-engine/models"
	"referral-engine/repository"
	"referral-engine/utils"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type ConversionStatus string

const (
	ConversionApplied          ConversionStatus = "converted"
	ConversionAlreadyConverted ConversionStatus = "already_converted"
	ConversionRejected         ConversionStatus = "rejected"
	ConversionNoAttribution    ConversionStatus = "no_attribution"
	ConversionReferralNotFound ConversionStatus = "referral_not_found"
)

var ErrInvalidOrder = errors.New("order payload has no id")

// ConversionOutcome is the result of processing one order. Every status is a
// normal outcome; only storage failures come back as errors.
type ConversionOutcome struct {
	Status             ConversionStatus `json:"status"`
	Reason             RejectReason     `json:"reason,omitempty"`
	ReferralCode       string           `json:"referral_code,omitempty"`
	Strategy           string           `json:"strategy,omitempty"`
	Commission         *decimal.Decimal `json:"commission,omitempty"`
	ConflictingOrderID string           `json:"conflicting_order_id,omitempty"`
}

// Label is the metric and delivery-log form of the outcome.
func (o ConversionOutcome) Label() string {
	if o.Status == ConversionRejected {
		return string(o.Reason)
	}
	return string(o.Status)
}

type ConversionService struct {
	Repos         *repository.Repositories
	Resolver      *AttributionResolver
	Notifier      Notifier
	NotifyTimeout time.Duration
	Now           func() time.Time
}

func NewConversionService(repos *repository.Repositories, resolver *AttributionResolver, notifier Notifier, notifyTimeout time.Duration) *ConversionService {
	return &ConversionService{
		Repos:         repos,
		Resolver:      resolver,
		Notifier:      notifier,
		NotifyTimeout: notifyTimeout,
		Now:           time.Now,
	}
}

// ProcessOrder resolves, prices and applies one paid order. Safe to replay.
func (s *ConversionService) ProcessOrder(ctx context.Context, shop string, order *models.OrderEvent) (ConversionOutcome, error) {
	if order.ID == "" {
		return ConversionOutcome{}, ErrInvalidOrder
	}
	log := utils.Log.WithFields(logrus.Fields{"shop": shop, "order_id": order.ID.String()})

	attribution, ok := s.Resolver.Resolve(ctx, shop, order)
	if !ok {
		return s.finish(log, ConversionOutcome{Status: ConversionNoAttribution}), nil
	}
	log = log.WithFields(logrus.Fields{"referral_code": attribution.Code, "strategy": attribution.Strategy})

	referral, err := s.Repos.Referrals.FindByCode(ctx, attribution.Code)
	if errors.Is(err, repository.ErrNotFound) {
		return s.finish(log, ConversionOutcome{Status: ConversionReferralNotFound, ReferralCode: attribution.Code, Strategy: attribution.Strategy}), nil
	}
	if err != nil {
		return ConversionOutcome{}, fmt.Errorf("load referral %s: %w", attribution.Code, err)
	}
	if referral.Shop != shop {
		log.WithField("referral_shop", referral.Shop).Warn("⚠️ [CONVERSION] referral belongs to another shop")
		return s.finish(log, ConversionOutcome{Status: ConversionReferralNotFound, ReferralCode: attribution.Code, Strategy: attribution.Strategy}), nil
	}

	// A settled referral replays its outcome even if the program's rules
	// have since become unusable.
	if outcome, ok := settledOutcome(referral, order.ID.String()); ok {
		outcome.ReferralCode = attribution.Code
		outcome.Strategy = attribution.Strategy
		return s.finish(log, outcome), nil
	}

	program, err := s.programFor(ctx, referral)
	if err != nil {
		return ConversionOutcome{}, err
	}
	commission, err := ComputeCommission(program, order.TotalPrice)
	if err != nil {
		return ConversionOutcome{}, fmt.Errorf("program %s: %w", program.ID, err)
	}

	outcome, err := s.ApplyConversion(ctx, referral, order, commission)
	if err != nil {
		return ConversionOutcome{}, err
	}
	outcome.ReferralCode = attribution.Code
	outcome.Strategy = attribution.Strategy
	return s.finish(log, outcome), nil
}

// ApplyConversion moves a pending referral to converted at most once. The
// conditional update in storage is the arbiter; the status checks here only
// avoid a pointless write.
func (s *ConversionService) ApplyConversion(ctx context.Context, referral *models.Referral, order *models.OrderEvent, commission Commission) (ConversionOutcome, error) {
	orderID := order.ID.String()

	if outcome, ok := settledOutcome(referral, orderID); ok {
		return outcome, nil
	}

	program, err := s.programFor(ctx, referral)
	if err != nil {
		return ConversionOutcome{}, err
	}
	if !program.IsActive {
		return ConversionOutcome{Status: ConversionRejected, Reason: RejectProgramInactive}, nil
	}
	if !commission.OK() {
		return ConversionOutcome{Status: ConversionRejected, Reason: commission.Rejected}, nil
	}

	conv := models.Conversion{
		OrderID:           orderID,
		OrderValue:        order.TotalPrice,
		Commission:        commission.Amount,
		ConvertedAt:       s.now(),
		RefereeCustomerID: order.CustomerID(),
		RefereeEmail:      order.CustomerEmail(),
		RefereeName:       order.CustomerName(),
	}
	applied, err := s.Repos.Referrals.MarkConverted(ctx, referral, conv)
	if err != nil {
		return ConversionOutcome{}, fmt.Errorf("commit conversion: %w", err)
	}
	if !applied {
		// Lost a race with another delivery or a lifecycle change.
		current, err := s.Repos.Referrals.FindByID(ctx, referral.ID)
		if err != nil {
			return ConversionOutcome{}, fmt.Errorf("reload referral after conflict: %w", err)
		}
		if outcome, ok := settledOutcome(current, orderID); ok {
			return outcome, nil
		}
		return ConversionOutcome{}, fmt.Errorf("referral %s still %s after conditional update", referral.ID, current.Status)
	}

	amount := commission.Amount
	s.notifyConversion(ctx, referral, program, order, amount)
	return ConversionOutcome{Status: ConversionApplied, Commission: &amount}, nil
}

// settledOutcome reports the outcome for a referral that can no longer
// convert.
func settledOutcome(referral *models.Referral, orderID string) (ConversionOutcome, bool) {
	switch referral.Status {
	case models.ReferralConverted:
		return alreadyConverted(referral, orderID), true
	case models.ReferralExpired:
		return ConversionOutcome{Status: ConversionRejected, Reason: RejectReferralExpired}, true
	}
	return ConversionOutcome{}, false
}

func alreadyConverted(referral *models.Referral, orderID string) ConversionOutcome {
	outcome := ConversionOutcome{Status: ConversionAlreadyConverted}
	if referral.OrderID != nil && *referral.OrderID != orderID {
		outcome.ConflictingOrderID = *referral.OrderID
		utils.Log.WithFields(logrus.Fields{
			"referral_code":      referral.ReferralCode,
			"order_id":           orderID,
			"converted_order_id": *referral.OrderID,
		}).Warn("⚠️ [CONVERSION] referral already credited to a different order")
	}
	return outcome
}

func (s *ConversionService) programFor(ctx context.Context, referral *models.Referral) (*models.Program, error) {
	if referral.Program != nil {
		return referral.Program, nil
	}
	program, err := s.Repos.Programs.FindByID(ctx, referral.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("load program %s: %w", referral.ProgramID, err)
	}
	referral.Program = program
	return program, nil
}

func (s *ConversionService) notifyConversion(ctx context.Context, referral *models.Referral, program *models.Program, order *models.OrderEvent, amount decimal.Decimal) {
	if s.Notifier == nil {
		return
	}
	notice := ConversionNotice{
		Shop:             referral.Shop,
		RecipientEmail:   referral.ReferrerEmail,
		RecipientName:    referral.ReferrerName,
		CommissionAmount: amount,
		OrderValue:       order.TotalPrice,
		OrderID:          order.ID.String(),
		CustomerName:     order.CustomerName(),
		ProgramName:      program.Name,
		ShopName:         ShopName(referral.Shop),
		ReferralCode:     referral.ReferralCode,
	}
	registered, isRegistered := referral.Referrer().(models.RegisteredReferrer)
	if !isRegistered && notice.RecipientEmail == "" {
		return
	}
	// The account lookup shares the notification deadline.
	notifyBestEffort(ctx, s.NotifyTimeout, notifyConversion, func(ctx context.Context) error {
		if isRegistered {
			account, err := s.Repos.Referrers.FindByID(ctx, registered.AccountID)
			if err == nil {
				notice.RecipientEmail = account.Email
				notice.RecipientName = utils.DisplayName(account.FirstName, account.LastName)
			} else if notice.RecipientEmail == "" {
				return fmt.Errorf("load referrer %s: %w", registered.AccountID, err)
			}
		}
		if notice.RecipientEmail == "" {
			return nil
		}
		return s.Notifier.NotifyConversion(ctx, notice)
	})
}

func (s *ConversionService) finish(log *logrus.Entry, outcome ConversionOutcome) ConversionOutcome {
	utils.ConversionsTotal.WithLabelValues(outcome.Label()).Inc()
	entry := log.WithField("outcome", outcome.Label())
	if outcome.Status == ConversionApplied {
		entry.WithField("commission", outcome.Commission.StringFixed(2)).Info("✅ [CONVERSION] referral converted")
	} else {
		entry.Info("[CONVERSION] order processed without credit")
	}
	return outcome
}

func (s *ConversionService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
