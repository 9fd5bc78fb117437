package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"referral-engine/models"
	"referral-engine/repository"
	"referral-engine/utils"

	"github.com/sirupsen/logrus"
)

const (
	StrategyNoteAttribute     = "note_attribute"
	StrategyLandingSite       = "landing_site"
	StrategyCustomerMetafield = "customer_metafield"
	StrategyEmailFallback     = "email_fallback"
)

// AttributionStrategy finds a referral code for an order. An empty code means
// no match; an error makes the resolver skip to the next strategy.
type AttributionStrategy struct {
	Name   string
	Lookup func(ctx context.Context, shop string, order *models.OrderEvent) (string, error)
}

type Attribution struct {
	Code     string
	Strategy string
}

// AttributionResolver tries its strategies in order and stops at the first code.
type AttributionResolver struct {
	Strategies []AttributionStrategy
}

func (r *AttributionResolver) Resolve(ctx context.Context, shop string, order *models.OrderEvent) (Attribution, bool) {
	for _, strategy := range r.Strategies {
		code, err := strategy.Lookup(ctx, shop, order)
		if err != nil {
			utils.AttributionStrategyErrors.WithLabelValues(strategy.Name).Inc()
			utils.Log.WithFields(logrus.Fields{
				"shop":     shop,
				"order_id": order.ID.String(),
				"strategy": strategy.Name,
			}).WithError(err).Warn("⚠️ [ATTRIBUTION] strategy failed, trying next")
			continue
		}
		if code = NormalizeCode(code); code != "" {
			utils.AttributionsTotal.WithLabelValues(strategy.Name).Inc()
			return Attribution{Code: code, Strategy: strategy.Name}, true
		}
	}
	return Attribution{}, false
}

// CustomerAttributionLookup reads the referral code saved for a customer at checkout.
type CustomerAttributionLookup interface {
	LookupReferralCode(ctx context.Context, shop, customerID string) (string, error)
}

// CustomerAttributionStore also persists codes, fed by the storefront.
type CustomerAttributionStore interface {
	CustomerAttributionLookup
	SaveReferralCode(ctx context.Context, shop, customerID, code string) error
}

var attributionKeys = []string{"referral_code", "ref"}

// metafield keys, most specific first
var metafieldKeys = []string{"referral_code", "last_referral"}

func NoteAttributeStrategy() AttributionStrategy {
	return AttributionStrategy{
		Name: StrategyNoteAttribute,
		Lookup: func(_ context.Context, _ string, order *models.OrderEvent) (string, error) {
			for _, key := range attributionKeys {
				for _, attr := range order.NoteAttributes {
					if strings.EqualFold(strings.TrimSpace(attr.Name), key) && strings.TrimSpace(attr.Value) != "" {
						return attr.Value, nil
					}
				}
			}
			return "", nil
		},
	}
}

func LandingSiteStrategy() AttributionStrategy {
	return AttributionStrategy{
		Name: StrategyLandingSite,
		Lookup: func(_ context.Context, _ string, order *models.OrderEvent) (string, error) {
			if strings.TrimSpace(order.LandingSite) == "" {
				return "", nil
			}
			u, err := url.Parse(strings.TrimSpace(order.LandingSite))
			if err != nil {
				return "", fmt.Errorf("parse landing site: %w", err)
			}
			return u.Query().Get("ref"), nil
		},
	}
}

// CustomerMetafieldStrategy checks metafields inlined in the payload first, then
// asks the lookup with a bounded timeout.
func CustomerMetafieldStrategy(lookup CustomerAttributionLookup, namespace string, timeout time.Duration) AttributionStrategy {
	return AttributionStrategy{
		Name: StrategyCustomerMetafield,
		Lookup: func(ctx context.Context, shop string, order *models.OrderEvent) (string, error) {
			if order.Customer == nil {
				return "", nil
			}
			for _, key := range metafieldKeys {
				for _, mf := range order.Customer.Metafields {
					if mf.Key != key || (mf.Namespace != "" && mf.Namespace != namespace) {
						continue
					}
					if strings.TrimSpace(mf.Value) != "" {
						return mf.Value, nil
					}
				}
			}

			customerID := order.CustomerID()
			if lookup == nil || customerID == "" {
				return "", nil
			}
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			return lookup.LookupReferralCode(ctx, shop, customerID)
		},
	}
}

// EmailFallbackStrategy credits the most recently clicked pending referral whose
// referrer or referee shares the customer's email, within window.
func EmailFallbackStrategy(referrals repository.ReferralRepository, window time.Duration, now func() time.Time) AttributionStrategy {
	if now == nil {
		now = time.Now
	}
	return AttributionStrategy{
		Name: StrategyEmailFallback,
		Lookup: func(ctx context.Context, shop string, order *models.OrderEvent) (string, error) {
			email := order.CustomerEmail()
			if email == "" {
				return "", nil
			}
			since := now().Add(-window)
			referral, err := referrals.FindRecentlyClickedByEmail(ctx, shop, email, since)
			if errors.Is(err, repository.ErrNotFound) {
				return "", nil
			}
			if err != nil {
				return "", err
			}
			return referral.ReferralCode, nil
		},
	}
}

type AttributionOptions struct {
	Lookup             CustomerAttributionLookup
	MetafieldNamespace string
	MetafieldTimeout   time.Duration
	Window             time.Duration
	Now                func() time.Time
}

// NewAttributionResolver builds the resolver with the default strategy order.
// Explicit signals come first; the time-bounded email match is last.
func NewAttributionResolver(referrals repository.ReferralRepository, opts AttributionOptions) *AttributionResolver {
	return &AttributionResolver{
		Strategies: []AttributionStrategy{
			NoteAttributeStrategy(),
			LandingSiteStrategy(),
			CustomerMetafieldStrategy(opts.Lookup, opts.MetafieldNamespace, opts.MetafieldTimeout),
			EmailFallbackStrategy(referrals, opts.Window, opts.Now),
		},
	}
}
