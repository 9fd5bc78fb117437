// Package memstore is an in-memory implementation of the repository interfaces.
// It enforces the same uniqueness and conditional-update rules as the Postgres store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"referral-engine/models"
	"referral-engine/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Store struct {
	mu         sync.Mutex
	programs   map[string]models.Program
	referrers  map[string]models.ReferrerAccount
	referrals  map[string]models.Referral
	clicks     []models.ReferralClick
	deliveries map[string]models.WebhookDelivery

	// FailNext makes the next call of the named operation return the error.
	failNext map[string]error
}

func New() *Store {
	return &Store{
		programs:   map[string]models.Program{},
		referrers:  map[string]models.ReferrerAccount{},
		referrals:  map[string]models.Referral{},
		deliveries: map[string]models.WebhookDelivery{},
		failNext:   map[string]error{},
	}
}

func (s *Store) Repositories() *repository.Repositories {
	return &repository.Repositories{
		Programs:   programs{s},
		Referrers:  referrers{s},
		Referrals:  referrals{s},
		Deliveries: deliveries{s},
	}
}

// FailNext arms a one-shot failure for an operation name such as "RecordClick".
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[op] = err
}

func (s *Store) takeFailure(op string) error {
	err := s.failNext[op]
	delete(s.failNext, op)
	return err
}

func (s *Store) Clicks() []models.ReferralClick {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ReferralClick(nil), s.clicks...)
}

func (s *Store) Referral(id string) models.Referral {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.referrals[id]
}

func (s *Store) Referrer(id string) models.ReferrerAccount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.referrers[id]
}

func (s *Store) Deliveries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deliveries)
}

func ensureID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

func touch(ts *models.Timestamps) {
	now := time.Now()
	if ts.CreatedAt.IsZero() {
		ts.CreatedAt = now
	}
	ts.UpdatedAt = now
}

type programs struct{ s *Store }

func (r programs) Create(_ context.Context, p *models.Program) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.takeFailure("CreateProgram"); err != nil {
		return err
	}
	ensureID(&p.ID)
	touch(&p.Timestamps)
	r.s.programs[p.ID] = *p
	return nil
}

func (r programs) FindByID(_ context.Context, id string) (*models.Program, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.programs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (r programs) ListByShop(_ context.Context, shop string) ([]models.Program, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Program
	for _, p := range r.s.programs {
		if p.Shop == shop {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r programs) FindSelfRegistration(_ context.Context, shop string) (*models.Program, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var found *models.Program
	for _, p := range r.s.programs {
		if p.Shop != shop || !p.IsActive || !p.AllowSelfRegistration {
			continue
		}
		if found == nil || p.CreatedAt.Before(found.CreatedAt) {
			p := p
			found = &p
		}
	}
	if found == nil {
		return nil, repository.ErrNotFound
	}
	return found, nil
}

func (r programs) SetActive(_ context.Context, id string, active bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.programs[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.IsActive = active
	touch(&p.Timestamps)
	r.s.programs[id] = p
	return nil
}

func (r programs) Close(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.programs[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.IsActive = false
	if p.ClosedAt == nil {
		closed := at
		p.ClosedAt = &closed
	}
	touch(&p.Timestamps)
	r.s.programs[id] = p
	return nil
}

type referrers struct{ s *Store }

func (r referrers) Create(_ context.Context, a *models.ReferrerAccount) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.takeFailure("CreateReferrer"); err != nil {
		return err
	}
	a.Email = models.NormalizeEmail(a.Email)
	for _, existing := range r.s.referrers {
		if existing.Shop == a.Shop && existing.Email == a.Email {
			return repository.ErrDuplicateEmail
		}
	}
	ensureID(&a.ID)
	touch(&a.Timestamps)
	r.s.referrers[a.ID] = *a
	return nil
}

func (r referrers) FindByID(_ context.Context, id string) (*models.ReferrerAccount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.referrers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (r referrers) FindByEmail(_ context.Context, shop, email string) (*models.ReferrerAccount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	email = models.NormalizeEmail(email)
	for _, a := range r.s.referrers {
		if a.Shop == shop && a.Email == email {
			return &a, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r referrers) MarkVerified(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.referrers[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.IsEmailVerified = true
	a.EmailVerificationToken = ""
	r.s.referrers[id] = a
	return nil
}

func (r referrers) IncrementReferrals(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.referrers[id]
	if !ok {
		return nil
	}
	a.TotalReferrals++
	r.s.referrers[id] = a
	return nil
}

type referrals struct{ s *Store }

func (r referrals) withProgram(ref models.Referral) *models.Referral {
	if p, ok := r.s.programs[ref.ProgramID]; ok {
		ref.Program = &p
	}
	return &ref
}

func (r referrals) Create(_ context.Context, ref *models.Referral) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.takeFailure("CreateReferral"); err != nil {
		return err
	}
	for _, existing := range r.s.referrals {
		if existing.ReferralCode == ref.ReferralCode {
			return repository.ErrDuplicateCode
		}
	}
	ensureID(&ref.ID)
	if ref.Status == "" {
		ref.Status = models.ReferralPending
	}
	touch(&ref.Timestamps)
	stored := *ref
	stored.Program = nil
	r.s.referrals[ref.ID] = stored
	return nil
}

func (r referrals) CodeExists(_ context.Context, code string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.takeFailure("CodeExists"); err != nil {
		return false, err
	}
	for _, ref := range r.s.referrals {
		if ref.ReferralCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (r referrals) FindByID(_ context.Context, id string) (*models.Referral, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ref, ok := r.s.referrals[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.withProgram(ref), nil
}

func (r referrals) FindByCode(_ context.Context, code string) (*models.Referral, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.takeFailure("FindByCode"); err != nil {
		return nil, err
	}
	for _, ref := range r.s.referrals {
		if ref.ReferralCode == code {
			return r.withProgram(ref), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r referrals) FindForReferrer(_ context.Context, programID string, referrer models.Referrer) (*models.Referral, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, ref := range r.s.referrals {
		if ref.ProgramID != programID {
			continue
		}
		switch want := referrer.(type) {
		case models.RegisteredReferrer:
			if ref.ReferrerAccountID != nil && *ref.ReferrerAccountID == want.AccountID {
				return r.withProgram(ref), nil
			}
		case models.UnattachedReferrer:
			if want.CustomerID != "" && ref.ReferrerCustomerID != nil && *ref.ReferrerCustomerID == want.CustomerID {
				return r.withProgram(ref), nil
			}
		}
	}
	return nil, repository.ErrNotFound
}

func (r referrals) ListByProgram(_ context.Context, programID string) ([]models.Referral, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Referral
	for _, ref := range r.s.referrals {
		if ref.ProgramID == programID {
			out = append(out, ref)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r referrals) ListForAccount(_ context.Context, accountID string) ([]models.Referral, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Referral
	for _, ref := range r.s.referrals {
		if ref.ReferrerAccountID != nil && *ref.ReferrerAccountID == accountID {
			out = append(out, *r.withProgram(ref))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r referrals) RecordClick(_ context.Context, click *models.ReferralClick) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.takeFailure("RecordClick"); err != nil {
		return err
	}
	ref, ok := r.s.referrals[click.ReferralID]
	if !ok {
		return repository.ErrNotFound
	}
	ensureID(&click.ID)
	r.s.clicks = append(r.s.clicks, *click)
	ref.ClickCount++
	clickedAt := click.ClickedAt
	ref.LastClickedAt = &clickedAt
	r.s.referrals[ref.ID] = ref
	return nil
}

func (r referrals) FindRecentlyClickedByEmail(_ context.Context, shop, email string, since time.Time) (*models.Referral, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.takeFailure("FindRecentlyClickedByEmail"); err != nil {
		return nil, err
	}
	email = models.NormalizeEmail(email)
	var best *models.Referral
	for _, ref := range r.s.referrals {
		if ref.Shop != shop || ref.Status != models.ReferralPending || ref.LastClickedAt == nil || ref.LastClickedAt.Before(since) {
			continue
		}
		if !r.matchesEmail(ref, email) {
			continue
		}
		if best == nil || ref.LastClickedAt.After(*best.LastClickedAt) {
			best = r.withProgram(ref)
		}
	}
	if best == nil {
		return nil, repository.ErrNotFound
	}
	return best, nil
}

func (r referrals) matchesEmail(ref models.Referral, email string) bool {
	if models.NormalizeEmail(ref.ReferrerEmail) == email {
		return true
	}
	if ref.RefereeEmail != nil && models.NormalizeEmail(*ref.RefereeEmail) == email {
		return true
	}
	if ref.ReferrerAccountID != nil {
		if a, ok := r.s.referrers[*ref.ReferrerAccountID]; ok && a.Email == email {
			return true
		}
	}
	return false
}

func (r referrals) MarkConverted(_ context.Context, referral *models.Referral, conv models.Conversion) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.takeFailure("MarkConverted"); err != nil {
		return false, err
	}
	ref, ok := r.s.referrals[referral.ID]
	if !ok || ref.Status != models.ReferralPending {
		return false, nil
	}

	orderID := conv.OrderID
	convertedAt := conv.ConvertedAt
	ref.Status = models.ReferralConverted
	ref.OrderID = &orderID
	ref.OrderValue = decimal.NewNullDecimal(conv.OrderValue)
	ref.CommissionAmount = decimal.NewNullDecimal(conv.Commission)
	ref.ConvertedAt = &convertedAt
	if conv.RefereeCustomerID != "" {
		v := conv.RefereeCustomerID
		ref.RefereeCustomerID = &v
	}
	if conv.RefereeEmail != "" {
		v := conv.RefereeEmail
		ref.RefereeEmail = &v
	}
	if conv.RefereeName != "" {
		v := conv.RefereeName
		ref.RefereeName = &v
	}
	r.s.referrals[ref.ID] = ref

	if registered, ok := ref.Referrer().(models.RegisteredReferrer); ok {
		if a, ok := r.s.referrers[registered.AccountID]; ok {
			a.TotalConversions++
			a.TotalCommissionEarned = a.TotalCommissionEarned.Add(conv.Commission)
			r.s.referrers[a.ID] = a
		}
	}
	return true, nil
}

func (r referrals) ExpirePendingForClosedPrograms(_ context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.takeFailure("ExpirePending"); err != nil {
		return 0, err
	}
	var n int64
	for id, ref := range r.s.referrals {
		p, ok := r.s.programs[ref.ProgramID]
		if !ok || !p.Closed() || ref.Status != models.ReferralPending {
			continue
		}
		ref.Status = models.ReferralExpired
		r.s.referrals[id] = ref
		n++
	}
	return n, nil
}

type deliveries struct{ s *Store }

func (r deliveries) Seen(_ context.Context, topic, deliveryID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.deliveries[topic+"|"+deliveryID]
	return ok, nil
}

func (r deliveries) Record(_ context.Context, d *models.WebhookDelivery) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := d.Topic + "|" + d.DeliveryID
	if _, ok := r.s.deliveries[key]; ok {
		return nil
	}
	ensureID(&d.ID)
	r.s.deliveries[key] = *d
	return nil
}
