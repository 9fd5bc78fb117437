package services

import (
	"context"
	"errors"
	"net/url"
	"time"

	"referral-engine/models"
	"referral-engine/repository"
	"referral-engine/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type ClickMeta struct {
	IPAddress string
	UserAgent string
	Referer   string
	Query     url.Values
}

type AttributionCookie struct {
	Name   string
	Value  string
	MaxAge time.Duration
}

// RedirectTarget is where the visitor goes next. Cookie is nil when there is
// nothing to attribute.
type RedirectTarget struct {
	URL     string
	Cookie  *AttributionCookie
	Tracked bool
}

type ClickTracker struct {
	Referrals  repository.ReferralRepository
	DefaultURL string
	CookieName string
	CookieTTL  time.Duration
	Now        func() time.Time
}

func NewClickTracker(referrals repository.ReferralRepository, defaultURL, cookieName string, cookieTTL time.Duration) *ClickTracker {
	return &ClickTracker{
		Referrals:  referrals,
		DefaultURL: defaultURL,
		CookieName: cookieName,
		CookieTTL:  cookieTTL,
		Now:        time.Now,
	}
}

// RecordClick never fails; every path ends in a usable redirect.
func (t *ClickTracker) RecordClick(ctx context.Context, code string, meta ClickMeta) RedirectTarget {
	code = NormalizeCode(code)
	log := utils.Log.WithField("referral_code", code)
	if code == "" {
		utils.ClicksTotal.WithLabelValues("not_found").Inc()
		return RedirectTarget{URL: t.DefaultURL}
	}

	referral, err := t.Referrals.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			utils.ClicksTotal.WithLabelValues("not_found").Inc()
			log.Info("🔗 [TRACK] unknown referral code")
		} else {
			utils.ClicksTotal.WithLabelValues("storage_error").Inc()
			log.WithError(err).Error("❌ [TRACK] referral lookup failed")
		}
		return RedirectTarget{URL: t.DefaultURL}
	}

	shopURL := utils.ShopURL(referral.Shop)
	if shopURL == "" {
		shopURL = t.DefaultURL
	}
	if referral.Program == nil || !referral.Program.IsActive || referral.Status == models.ReferralExpired {
		utils.ClicksTotal.WithLabelValues("inactive").Inc()
		log.WithField("shop", referral.Shop).Info("🔗 [TRACK] referral not accepting clicks")
		return RedirectTarget{URL: shopURL}
	}

	target := RedirectTarget{
		URL: TrackedURL(shopURL, code, referral.ID, meta.Query),
		Cookie: &AttributionCookie{
			Name:   t.CookieName,
			Value:  code,
			MaxAge: t.CookieTTL,
		},
	}

	click := &models.ReferralClick{
		ID:         uuid.NewString(),
		ReferralID: referral.ID,
		ClickedAt:  t.now(),
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
	}
	if meta.Referer != "" {
		referer := meta.Referer
		click.Referer = &referer
	}
	if err := t.Referrals.RecordClick(ctx, click); err != nil {
		utils.ClicksTotal.WithLabelValues("storage_error").Inc()
		log.WithFields(logrus.Fields{"shop": referral.Shop}).WithError(err).Warn("⚠️ [TRACK] click not recorded, redirecting anyway")
		return target
	}

	utils.ClicksTotal.WithLabelValues("tracked").Inc()
	target.Tracked = true
	return target
}

func (t *ClickTracker) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// TrackedURL keeps incoming query parameters except ref, then sets ref and the
// fixed UTM parameters, which win over any incoming values.
func TrackedURL(shopURL, code, referralID string, incoming url.Values) string {
	u, err := url.Parse(shopURL)
	if err != nil {
		return shopURL
	}
	q := url.Values{}
	for key, values := range incoming {
		if key == "ref" {
			continue
		}
		q[key] = append([]string(nil), values...)
	}
	q.Set("ref", code)
	q.Set("utm_source", "referral")
	q.Set("utm_medium", "link")
	q.Set("utm_campaign", "referral_program")
	q.Set("utm_content", referralID)
	u.RawQuery = q.Encode()
	return u.String()
}
