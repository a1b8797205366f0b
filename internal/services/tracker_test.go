package services

import (
	"context"
	"encoding/json"
	"math"
	"net/url"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/axellelanca/trailtrack/internal/analytics"
	customerrors "github.com/axellelanca/trailtrack/internal/errors"
	"github.com/axellelanca/trailtrack/internal/models"
	"github.com/axellelanca/trailtrack/internal/repository"
)

// recordingEvents captures analytics calls.
type recordingEvents struct {
	mu          sync.Mutex
	clicks      []analytics.AffiliateClick
	conversions []analytics.Conversion
}

func (r *recordingEvents) TrackAffiliateClick(click analytics.AffiliateClick) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clicks = append(r.clicks, click)
}

func (r *recordingEvents) TrackConversion(conv analytics.Conversion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversions = append(r.conversions, conv)
}

type mockCommissions struct {
	mock.Mock
}

func (m *mockCommissions) Submit(rec models.CommissionRecord) error {
	args := m.Called(rec)
	return args.Error(0)
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type trackerFixture struct {
	store       *repository.MemoryStore
	events      *recordingEvents
	commissions *mockCommissions
	clock       *fakeClock
	deps        TrackerDeps
}

func newFixture(cfg TrackerConfig) *trackerFixture {
	f := &trackerFixture{
		store:       repository.NewMemoryStore(),
		events:      &recordingEvents{},
		commissions: &mockCommissions{},
		clock:       &fakeClock{now: time.UnixMilli(1_700_000_000_000)},
	}
	f.deps = TrackerDeps{
		Store:       f.store,
		Events:      f.events,
		Commissions: f.commissions,
		Config:      cfg,
		Logger:      zap.NewNop(),
		Clock:       f.clock.Now,
	}
	return f
}

func (f *trackerFixture) tracker(landing string) *Tracker {
	return NewTracker(context.Background(), "visitor-1", PageContext{
		LandingPage: landing,
		Referrer:    "https://search.example/",
	}, f.deps)
}

func floatPtr(v float64) *float64 { return &v }

func TestTracker_RegisterAffiliateLinkGeneratesID(t *testing.T) {
	f := newFixture(TrackerConfig{})
	tr := f.tracker("https://site.example/")

	id, err := tr.RegisterAffiliateLink(context.Background(), models.AffiliateLink{AffiliateURL: "https://merchant.example/p/1"})
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^aff_[A-Za-z0-9]{9}$`), id)
	link, ok := tr.Link(id)
	require.True(t, ok)
	assert.Equal(t, id, link.ID)
}

func TestTracker_GenerateTrackingURL(t *testing.T) {
	f := newFixture(TrackerConfig{})
	tr := f.tracker("https://site.example/")

	id, err := tr.RegisterAffiliateLink(context.Background(), models.AffiliateLink{
		AffiliateURL: "https://merchant.example/p/1?color=red",
		UTMParams:    &models.UTMParams{Source: "blog", Medium: "affiliate", Campaign: "summer"},
	})
	require.NoError(t, err)

	raw, err := tr.GenerateTrackingURL(id, map[string]string{"utm_source": "newsletter", "slot": "top"})
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "merchant.example", u.Host)
	assert.Equal(t, "red", q.Get("color"))
	assert.Equal(t, "rvtech", q.Get("ref"))
	assert.Equal(t, tr.Session().SessionID, q.Get("sid"))
	assert.Equal(t, id, q.Get("aid"))
	assert.Equal(t, "newsletter", q.Get("utm_source"), "custom params win on collision")
	assert.Equal(t, "affiliate", q.Get("utm_medium"))
	assert.Equal(t, "top", q.Get("slot"))
	assert.False(t, q.Has("utm_term"))
}

func TestTracker_GenerateTrackingURLErrors(t *testing.T) {
	f := newFixture(TrackerConfig{})
	tr := f.tracker("https://site.example/")

	_, err := tr.GenerateTrackingURL("aff_missing00", nil)
	assert.ErrorIs(t, err, customerrors.ErrAffiliateNotFound)

	id, err := tr.RegisterAffiliateLink(context.Background(), models.AffiliateLink{AffiliateURL: "not a url"})
	require.NoError(t, err)
	_, err = tr.GenerateTrackingURL(id, nil)
	assert.ErrorIs(t, err, customerrors.ErrInvalidAffiliateURL)
}

func TestTracker_CapturesUTMOnlyWhenComplete(t *testing.T) {
	f := newFixture(TrackerConfig{})

	full := f.tracker("https://site.example/?utm_source=g&utm_medium=cpc&utm_campaign=spring&utm_term=solar")
	require.NotNil(t, full.Session().UTMParams)
	assert.Equal(t, "solar", full.Session().UTMParams.Term)

	g := newFixture(TrackerConfig{})
	partial := g.tracker("https://site.example/?utm_source=g&utm_medium=cpc")
	assert.Nil(t, partial.Session().UTMParams)
}

func TestTracker_HandleClick(t *testing.T) {
	f := newFixture(TrackerConfig{})
	tr := f.tracker("https://site.example/reviews")
	ctx := context.Background()

	id, err := tr.RegisterAffiliateLink(ctx, models.AffiliateLink{
		AffiliateURL: "https://merchant.example/p/1",
		ProductName:  "Panel",
		Commission:   8,
	})
	require.NoError(t, err)

	_, tracked := tr.HandleClick(ctx, models.ClickInput{Href: "/about"})
	assert.False(t, tracked, "anchors without aid are ignored")

	_, tracked = tr.HandleClick(ctx, models.ClickInput{Href: "/go?aid=aff_unknown00"})
	assert.False(t, tracked, "unregistered aid is ignored")

	click, tracked := tr.HandleClick(ctx, models.ClickInput{Href: "/go?aid=" + id, UserAgent: "ua-test"})
	require.True(t, tracked)
	assert.Equal(t, models.ConversionClick, click.ConversionType)
	assert.Equal(t, "ua-test", click.UserAgent)

	_, tracked = tr.HandleClick(ctx, models.ClickInput{Href: "https://merchant.example/p/1?aid=" + id, BaseURL: "https://other.example/"})
	require.True(t, tracked)

	assert.Len(t, tr.Session().AffiliateClicks, 2)
	require.Len(t, f.events.clicks, 2)
	assert.Equal(t, 1, f.events.clicks[0].Position)
	assert.Equal(t, 2, f.events.clicks[1].Position)
	assert.Equal(t, "Panel", f.events.clicks[0].ProductName)
}

func TestTracker_ClickLogIsBounded(t *testing.T) {
	f := newFixture(TrackerConfig{ClickLogLimit: 3})
	tr := f.tracker("https://site.example/")
	ctx := context.Background()

	id, err := tr.RegisterAffiliateLink(ctx, models.AffiliateLink{AffiliateURL: "https://merchant.example/"})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		f.clock.Advance(time.Second)
		_, ok := tr.HandleClick(ctx, models.ClickInput{Href: "/go?aid=" + id})
		require.True(t, ok)
	}

	logged, err := tr.ClickLog(ctx)
	require.NoError(t, err)
	require.Len(t, logged, 3)
	session := tr.Session()
	assert.Equal(t, session.AffiliateClicks[4].Timestamp, logged[2].Timestamp)
	assert.Equal(t, session.AffiliateClicks[2].Timestamp, logged[0].Timestamp)
}

func TestTracker_RecordConversionReportsCommission(t *testing.T) {
	f := newFixture(TrackerConfig{})
	tr := f.tracker("https://site.example/")
	ctx := context.Background()

	id, err := tr.RegisterAffiliateLink(ctx, models.AffiliateLink{AffiliateURL: "https://merchant.example/", Commission: 10})
	require.NoError(t, err)
	_, ok := tr.HandleClick(ctx, models.ClickInput{Href: "/go?aid=" + id})
	require.True(t, ok)

	f.commissions.On("Submit", mock.MatchedBy(func(rec models.CommissionRecord) bool {
		return rec.AffiliateID == id &&
			rec.OrderID == "order-1" &&
			rec.ConversionValue == 200 &&
			math.Abs(rec.Commission-20) < 1e-9 &&
			rec.Currency == "USD"
	})).Return(nil).Once()

	f.clock.Advance(time.Minute)
	res := tr.RecordConversion(ctx, models.ConversionEvent{
		AffiliateID:    id,
		ConversionType: models.ConversionSale,
		Value:          floatPtr(200),
		OrderID:        "order-1",
	})

	require.True(t, res.Attributed())
	require.NotNil(t, res.Commission)
	assert.InDelta(t, 20.0, *res.Commission, 1e-9)
	f.commissions.AssertExpectations(t)

	require.Len(t, f.events.conversions, 1)
	assert.True(t, f.events.conversions[0].Attributed)
}

func TestTracker_UnattributedConversionIsStillRecorded(t *testing.T) {
	f := newFixture(TrackerConfig{})
	tr := f.tracker("https://site.example/")
	ctx := context.Background()

	id, err := tr.RegisterAffiliateLink(ctx, models.AffiliateLink{AffiliateURL: "https://merchant.example/", Commission: 10})
	require.NoError(t, err)

	res := tr.RecordConversion(ctx, models.ConversionEvent{AffiliateID: id, Value: floatPtr(50)})

	assert.False(t, res.Attributed())
	assert.Nil(t, res.Commission)
	f.commissions.AssertNotCalled(t, "Submit", mock.Anything)

	session := tr.Session()
	require.Len(t, session.Conversions, 1)
	assert.Equal(t, "USD", session.Conversions[0].Currency)
	assert.Equal(t, models.ConversionSale, session.Conversions[0].ConversionType)
	assert.Equal(t, session.SessionID, session.Conversions[0].SessionID)
}

func TestTracker_CommissionFailureDoesNotFailConversion(t *testing.T) {
	f := newFixture(TrackerConfig{})
	tr := f.tracker("https://site.example/")
	ctx := context.Background()

	id, err := tr.RegisterAffiliateLink(ctx, models.AffiliateLink{AffiliateURL: "https://merchant.example/", Commission: 5})
	require.NoError(t, err)
	_, ok := tr.HandleClick(ctx, models.ClickInput{Href: "/go?aid=" + id})
	require.True(t, ok)

	f.commissions.On("Submit", mock.Anything).Return(customerrors.ErrBufferFull)

	res := tr.RecordConversion(ctx, models.ConversionEvent{AffiliateID: id, Value: floatPtr(40)})
	require.NotNil(t, res.Commission)
	assert.InDelta(t, 2.0, *res.Commission, 1e-9)
	assert.Len(t, tr.Session().Conversions, 1)
}

func TestTracker_EndToEnd(t *testing.T) {
	f := newFixture(TrackerConfig{})
	tr := f.tracker("https://site.example/")
	ctx := context.Background()

	a, err := tr.RegisterAffiliateLink(ctx, models.AffiliateLink{AffiliateURL: "https://merchant.example/p/1", Commission: 15})
	require.NoError(t, err)

	trackingURL, err := tr.GenerateTrackingURL(a, nil)
	require.NoError(t, err)

	click, ok := tr.HandleClick(ctx, models.ClickInput{Href: trackingURL})
	require.True(t, ok)
	assert.Equal(t, 1, tr.GetSessionAnalytics().ClickCount)

	f.commissions.On("Submit", mock.MatchedBy(func(rec models.CommissionRecord) bool {
		return rec.AffiliateID == a && math.Abs(rec.Commission-15) < 1e-9
	})).Return(nil).Once()

	res := tr.RecordConversion(ctx, models.ConversionEvent{
		AffiliateID:    a,
		ConversionType: models.ConversionSale,
		Value:          floatPtr(100),
		Timestamp:      click.Timestamp + 1000,
		SessionID:      tr.Session().SessionID,
	})

	require.NotNil(t, res.Commission)
	assert.InDelta(t, 15.0, *res.Commission, 1e-9)
	assert.Equal(t, 1, tr.GetSessionAnalytics().ConversionCount)
	f.commissions.AssertExpectations(t)
}

func TestTracker_GetSessionAnalyticsRanksAffiliates(t *testing.T) {
	f := newFixture(TrackerConfig{})
	tr := f.tracker("https://site.example/")
	ctx := context.Background()
	f.commissions.On("Submit", mock.Anything).Return(nil)

	a, _ := tr.RegisterAffiliateLink(ctx, models.AffiliateLink{AffiliateURL: "https://a.example/"})
	b, _ := tr.RegisterAffiliateLink(ctx, models.AffiliateLink{AffiliateURL: "https://b.example/"})

	tr.HandleClick(ctx, models.ClickInput{Href: "/go?aid=" + a})
	tr.HandleClick(ctx, models.ClickInput{Href: "/go?aid=" + b})
	tr.HandleClick(ctx, models.ClickInput{Href: "/go?aid=" + b})
	tr.RecordConversion(ctx, models.ConversionEvent{AffiliateID: a, Value: floatPtr(30)})
	tr.RecordConversion(ctx, models.ConversionEvent{AffiliateID: b, Value: floatPtr(10)})
	tr.RecordConversion(ctx, models.ConversionEvent{AffiliateID: b, ConversionType: models.ConversionLead})

	stats := tr.GetSessionAnalytics()
	assert.Equal(t, 3, stats.ClickCount)
	assert.Equal(t, 3, stats.ConversionCount)
	assert.InDelta(t, 40.0, stats.TotalValue, 1e-9)
	require.Len(t, stats.TopAffiliates, 2)
	assert.Equal(t, a, stats.TopAffiliates[0].AffiliateID)
	assert.Equal(t, b, stats.TopAffiliates[1].AffiliateID)
	assert.Equal(t, 2, stats.TopAffiliates[1].Conversions)
}

func TestTracker_HandleMessage(t *testing.T) {
	f := newFixture(TrackerConfig{TrustedOrigins: []string{"https://shop.example"}})
	tr := f.tracker("https://site.example/")
	ctx := context.Background()

	payload := []byte(`{"type":"affiliate_conversion","affiliateId":"aff_x","value":12.5,"orderId":"o-7"}`)

	_, err := tr.HandleMessage(ctx, "https://evil.example", payload)
	assert.ErrorIs(t, err, customerrors.ErrUntrustedOrigin)
	assert.Empty(t, tr.Session().Conversions)

	_, err = tr.HandleMessage(ctx, "https://shop.example", []byte(`{"type":"other","affiliateId":"aff_x"}`))
	assert.ErrorIs(t, err, customerrors.ErrMalformedMessage)

	_, err = tr.HandleMessage(ctx, "https://shop.example", []byte(`not json`))
	assert.ErrorIs(t, err, customerrors.ErrMalformedMessage)

	_, err = tr.HandleMessage(ctx, "https://shop.example", payload)
	require.NoError(t, err)

	conversions := tr.Session().Conversions
	require.Len(t, conversions, 1)
	assert.Equal(t, models.ConversionSale, conversions[0].ConversionType)
	assert.Equal(t, "USD", conversions[0].Currency)
	assert.Equal(t, "o-7", conversions[0].OrderID)
	assert.Equal(t, f.clock.Now().UnixMilli(), conversions[0].Timestamp)
}

func TestTracker_NoTrustedOriginsRejectsEverything(t *testing.T) {
	f := newFixture(TrackerConfig{})
	tr := f.tracker("https://site.example/")

	_, err := tr.HandleMessage(context.Background(), "https://site.example", []byte(`{"type":"affiliate_conversion","affiliateId":"a"}`))
	assert.ErrorIs(t, err, customerrors.ErrUntrustedOrigin)
}

func TestTracker_SessionRoundTrip(t *testing.T) {
	f := newFixture(TrackerConfig{})
	ctx := context.Background()
	tr := f.tracker("https://site.example/")
	f.commissions.On("Submit", mock.Anything).Return(nil)

	id, err := tr.RegisterAffiliateLink(ctx, models.AffiliateLink{AffiliateURL: "https://merchant.example/", ProductName: "Kit"})
	require.NoError(t, err)
	tr.HandleClick(ctx, models.ClickInput{Href: "/go?aid=" + id})
	tr.RecordConversion(ctx, models.ConversionEvent{AffiliateID: id, Value: floatPtr(9)})
	require.NoError(t, tr.HandleLifecycle(ctx, LifecycleHidden))

	f.clock.Advance(23 * time.Hour)
	restored := f.tracker("https://site.example/elsewhere")

	before, after := tr.Session(), restored.Session()
	assert.Equal(t, before.SessionID, after.SessionID)
	assert.Equal(t, before.AffiliateClicks, after.AffiliateClicks)
	assert.Equal(t, before.Conversions, after.Conversions)
	assert.Equal(t, "https://site.example/", after.LandingPage)

	link, ok := restored.Link(id)
	require.True(t, ok)
	assert.Equal(t, "Kit", link.ProductName)
}

func TestTracker_ExpiredSessionStartsFresh(t *testing.T) {
	f := newFixture(TrackerConfig{})
	ctx := context.Background()
	tr := f.tracker("https://site.example/")
	require.NoError(t, tr.Save(ctx))

	f.clock.Advance(24 * time.Hour)
	fresh := f.tracker("https://site.example/")

	assert.NotEqual(t, tr.Session().SessionID, fresh.Session().SessionID)
}

func TestTracker_CorruptedStorageStartsFresh(t *testing.T) {
	f := newFixture(TrackerConfig{})
	require.NoError(t, f.store.SetItem(context.Background(), "visitor-1", SessionStorageKey, "{broken"))

	tr := f.tracker("https://site.example/")

	assert.NotEmpty(t, tr.Session().SessionID)
	assert.Empty(t, tr.Session().AffiliateClicks)
}

func TestTracker_SavedDocumentShape(t *testing.T) {
	f := newFixture(TrackerConfig{})
	ctx := context.Background()
	tr := f.tracker("https://site.example/")
	id, err := tr.RegisterAffiliateLink(ctx, models.AffiliateLink{AffiliateURL: "https://merchant.example/"})
	require.NoError(t, err)

	raw, ok, err := f.store.GetItem(ctx, "visitor-1", SessionStorageKey)
	require.NoError(t, err)
	require.True(t, ok)

	var doc struct {
		CurrentSession map[string]any    `json:"currentSession"`
		AffiliateLinks []json.RawMessage `json:"affiliateLinks"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	assert.Equal(t, tr.Session().SessionID, doc.CurrentSession["sessionId"])
	require.Len(t, doc.AffiliateLinks, 1)

	var pair []json.RawMessage
	require.NoError(t, json.Unmarshal(doc.AffiliateLinks[0], &pair))
	require.Len(t, pair, 2)
	assert.JSONEq(t, `"`+id+`"`, string(pair[0]))
}

func TestTracker_SetAttributionModel(t *testing.T) {
	f := newFixture(TrackerConfig{})
	tr := f.tracker("https://site.example/")

	err := tr.SetAttributionModel(models.AttributionModel{Type: "made_up", LookbackWindow: 7})
	assert.ErrorIs(t, err, customerrors.ErrInvalidAttributionModel)
	assert.Equal(t, models.DefaultAttributionModel, tr.AttributionModel())

	require.NoError(t, tr.SetAttributionModel(models.AttributionModel{Type: models.FirstClick, LookbackWindow: 7}))
	assert.Equal(t, models.FirstClick, tr.AttributionModel().Type)

	tr.SetUserID("user-42")
	assert.Equal(t, "user-42", tr.Session().UserID)
}

func TestRegistry_OneTrackerPerVisitor(t *testing.T) {
	f := newFixture(TrackerConfig{})
	reg := NewRegistry(f.deps, []models.AffiliateLink{
		{ID: "aff_catalog01", AffiliateURL: "https://merchant.example/solar", ProductName: "Solar kit", Commission: 12},
		{AffiliateURL: "https://merchant.example/no-id"},
	})
	ctx := context.Background()

	one := reg.Get(ctx, "v1", PageContext{LandingPage: "https://site.example/"})
	again := reg.Get(ctx, "v1", PageContext{LandingPage: "https://site.example/other"})
	other := reg.Get(ctx, "v2", PageContext{LandingPage: "https://site.example/"})

	assert.Same(t, one, again)
	assert.NotSame(t, one, other)
	assert.Equal(t, 2, reg.Len())

	link, ok := one.Link("aff_catalog01")
	require.True(t, ok)
	assert.Equal(t, "Solar kit", link.ProductName)
	assert.Len(t, one.Links(), 1)

	require.NoError(t, reg.SaveAll(ctx))
	_, saved, err := f.store.GetItem(ctx, "v2", SessionStorageKey)
	require.NoError(t, err)
	assert.True(t, saved)
}

func TestRegistry_ReplacesExpiredSession(t *testing.T) {
	f := newFixture(TrackerConfig{})
	reg := NewRegistry(f.deps, nil)
	ctx := context.Background()
	page := PageContext{LandingPage: "https://site.example/"}

	first := reg.Get(ctx, "v1", page)
	oldSession := first.Session().SessionID

	f.clock.Advance(23 * time.Hour)
	assert.Same(t, first, reg.Get(ctx, "v1", page))

	f.clock.Advance(2 * time.Hour)
	fresh := reg.Get(ctx, "v1", page)

	assert.NotSame(t, first, fresh)
	assert.NotEqual(t, oldSession, fresh.Session().SessionID)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_EvictsIdleTrackers(t *testing.T) {
	f := newFixture(TrackerConfig{})
	reg := NewRegistry(f.deps, nil)
	ctx := context.Background()
	page := PageContext{LandingPage: "https://site.example/"}

	idle := reg.Get(ctx, "idle", page)
	idleSession := idle.Session().SessionID
	f.clock.Advance(20 * time.Minute)
	reg.Get(ctx, "active", page)
	f.clock.Advance(15 * time.Minute)

	n, err := reg.Evict(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, reg.Len())

	_, ok := reg.Lookup("idle")
	assert.False(t, ok)
	_, saved, err := f.store.GetItem(ctx, "idle", SessionStorageKey)
	require.NoError(t, err)
	assert.True(t, saved)

	// the evicted visitor comes back with its stored session
	back := reg.Get(ctx, "idle", page)
	assert.Equal(t, idleSession, back.Session().SessionID)
}
