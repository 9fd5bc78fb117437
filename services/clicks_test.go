package services

import (
	"context"
	"net/url"
	"testing"
	"time"

	"referral-engine/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const defaultRedirect = "https://example.myshopify.com"

func newTracker(f *fixture, now time.Time) *ClickTracker {
	tracker := NewClickTracker(f.repos.Referrals, defaultRedirect, "referral_ref", 30*24*time.Hour)
	tracker.Now = fixedClock(now)
	return tracker
}

func TestClickTracker_RecordClick(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)

	t.Run("RedirectShapeAndCounters", func(t *testing.T) {
		f := newFixture()
		program := f.program(t, nil)
		referral := f.referral(t, program, "ABC123", nil)

		target := newTracker(f, now).RecordClick(ctx, "abc123", ClickMeta{
			IPAddress: "203.0.113.9",
			UserAgent: "Mozilla/5.0",
			Referer:   "https://social.example/post/1",
			Query:     url.Values{"foo": {"bar"}, "ref": {"SOMETHINGELSE"}},
		})

		require.True(t, target.Tracked)
		u, err := url.Parse(target.URL)
		require.NoError(t, err)
		assert.Equal(t, "https", u.Scheme)
		assert.Equal(t, testShop, u.Host)

		q := u.Query()
		assert.Equal(t, []string{"ABC123"}, q["ref"])
		assert.Equal(t, "referral", q.Get("utm_source"))
		assert.Equal(t, "link", q.Get("utm_medium"))
		assert.Equal(t, "referral_program", q.Get("utm_campaign"))
		assert.Equal(t, referral.ID, q.Get("utm_content"))
		assert.Equal(t, "bar", q.Get("foo"))

		require.NotNil(t, target.Cookie)
		assert.Equal(t, "referral_ref", target.Cookie.Name)
		assert.Equal(t, "ABC123", target.Cookie.Value)
		assert.Equal(t, 30*24*time.Hour, target.Cookie.MaxAge)

		stored := f.store.Referral(referral.ID)
		assert.Equal(t, int64(1), stored.ClickCount)
		require.NotNil(t, stored.LastClickedAt)
		assert.True(t, now.Equal(*stored.LastClickedAt))

		clicks := f.store.Clicks()
		require.Len(t, clicks, 1)
		assert.Equal(t, referral.ID, clicks[0].ReferralID)
		assert.Equal(t, "203.0.113.9", clicks[0].IPAddress)
		assert.Equal(t, "Mozilla/5.0", clicks[0].UserAgent)
		require.NotNil(t, clicks[0].Referer)
		assert.Equal(t, "https://social.example/post/1", *clicks[0].Referer)
	})

	t.Run("FixedUTMOverridesIncoming", func(t *testing.T) {
		f := newFixture()
		program := f.program(t, nil)
		f.referral(t, program, "UTMCASE2", nil)

		target := newTracker(f, now).RecordClick(ctx, "UTMCASE2", ClickMeta{
			Query: url.Values{"utm_source": {"newsletter"}},
		})
		u, err := url.Parse(target.URL)
		require.NoError(t, err)
		assert.Equal(t, []string{"referral"}, u.Query()["utm_source"])
	})

	t.Run("UnknownCodeRedirectsToDefault", func(t *testing.T) {
		f := newFixture()
		target := newTracker(f, now).RecordClick(ctx, "doesnotexist", ClickMeta{})
		assert.Equal(t, defaultRedirect, target.URL)
		assert.Nil(t, target.Cookie)
		assert.False(t, target.Tracked)
		assert.Empty(t, f.store.Clicks())
	})

	t.Run("EmptyCode", func(t *testing.T) {
		f := newFixture()
		target := newTracker(f, now).RecordClick(ctx, "  ", ClickMeta{})
		assert.Equal(t, defaultRedirect, target.URL)
	})

	t.Run("InactiveProgramRedirectsToShopRoot", func(t *testing.T) {
		f := newFixture()
		program := f.program(t, func(p *models.Program) { p.IsActive = false })
		referral := f.referral(t, program, "PAUSED22", nil)

		target := newTracker(f, now).RecordClick(ctx, "PAUSED22", ClickMeta{})
		assert.Equal(t, "https://"+testShop, target.URL)
		assert.Nil(t, target.Cookie)
		assert.Zero(t, f.store.Referral(referral.ID).ClickCount)
	})

	t.Run("ExpiredReferralRedirectsToShopRoot", func(t *testing.T) {
		f := newFixture()
		program := f.program(t, nil)
		f.referral(t, program, "EXPIRED2", func(r *models.Referral) { r.Status = models.ReferralExpired })

		target := newTracker(f, now).RecordClick(ctx, "EXPIRED2", ClickMeta{})
		assert.Equal(t, "https://"+testShop, target.URL)
		assert.False(t, target.Tracked)
	})

	t.Run("LookupFailureStillRedirects", func(t *testing.T) {
		f := newFixture()
		program := f.program(t, nil)
		f.referral(t, program, "LOOKUP22", nil)
		f.store.FailNext("FindByCode", errStorageDown)

		target := newTracker(f, now).RecordClick(ctx, "LOOKUP22", ClickMeta{})
		assert.Equal(t, defaultRedirect, target.URL)
	})

	t.Run("ClickWriteFailureStillRedirectsWithTracking", func(t *testing.T) {
		f := newFixture()
		program := f.program(t, nil)
		referral := f.referral(t, program, "WRITE222", nil)
		f.store.FailNext("RecordClick", errStorageDown)

		target := newTracker(f, now).RecordClick(ctx, "WRITE222", ClickMeta{})
		assert.False(t, target.Tracked)
		require.NotNil(t, target.Cookie)
		u, err := url.Parse(target.URL)
		require.NoError(t, err)
		assert.Equal(t, "WRITE222", u.Query().Get("ref"))
		assert.Zero(t, f.store.Referral(referral.ID).ClickCount)
	})

	t.Run("ConcurrentClicksAllCounted", func(t *testing.T) {
		f := newFixture()
		program := f.program(t, nil)
		referral := f.referral(t, program, "BUSY2222", nil)
		tracker := newTracker(f, now)

		done := make(chan struct{})
		for i := 0; i < 50; i++ {
			go func() {
				tracker.RecordClick(ctx, "BUSY2222", ClickMeta{})
				done <- struct{}{}
			}()
		}
		for i := 0; i < 50; i++ {
			<-done
		}
		assert.Equal(t, int64(50), f.store.Referral(referral.ID).ClickCount)
		assert.Len(t, f.store.Clicks(), 50)
	})
}

func TestTrackedURL_KeepsExistingPath(t *testing.T) {
	got := TrackedURL("https://shop.example/collections/sale", "CODE2345", "rid", url.Values{"a": {"1", "2"}})
	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "/collections/sale", u.Path)
	assert.Equal(t, []string{"1", "2"}, u.Query()["a"])
	assert.Equal(t, "CODE2345", u.Query().Get("ref"))
}
