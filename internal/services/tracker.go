package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/axellelanca/trailtrack/internal/analytics"
	customerrors "github.com/axellelanca/trailtrack/internal/errors"
	"github.com/axellelanca/trailtrack/internal/models"
	"github.com/axellelanca/trailtrack/internal/repository"
)

// Storage keys used inside a visitor's namespace.
const (
	SessionStorageKey  = "affiliate_session"
	ClickLogStorageKey = "affiliate_clicks"
)

const (
	defaultRefTag        = "rvtech"
	defaultSessionTTL    = 24 * time.Hour
	defaultClickLogLimit = 100
	defaultCurrency      = "USD"
)

// EventTracker receives the analytics events emitted by a Tracker.
// *analytics.Client implements it.
type EventTracker interface {
	TrackAffiliateClick(click analytics.AffiliateClick)
	TrackConversion(conv analytics.Conversion)
}

// CommissionSubmitter accepts commission records without blocking.
// *workers.CommissionReporter implements it.
type CommissionSubmitter interface {
	Submit(rec models.CommissionRecord) error
}

// TrackerConfig holds the tunables of a Tracker. Zero values fall back to defaults.
type TrackerConfig struct {
	RefTag         string
	SessionTTL     time.Duration
	ClickLogLimit  int
	TrustedOrigins []string
}

func (c TrackerConfig) withDefaults() TrackerConfig {
	if c.RefTag == "" {
		c.RefTag = defaultRefTag
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = defaultSessionTTL
	}
	if c.ClickLogLimit <= 0 {
		c.ClickLogLimit = defaultClickLogLimit
	}
	return c
}

// PageContext describes the page a tracker was created on.
type PageContext struct {
	LandingPage string
	Referrer    string
	UserAgent   string
}

// TrackerDeps groups the collaborators shared by every tracker.
type TrackerDeps struct {
	Store       repository.Store
	Events      EventTracker
	Commissions CommissionSubmitter
	Config      TrackerConfig
	Logger      *zap.Logger
	Clock       func() time.Time
}

// Tracker owns one visitor's tracking session. It records affiliate clicks
// and conversions, attributes conversions to clicks and persists its state
// in the visitor's storage namespace.
type Tracker struct {
	mu sync.Mutex

	namespace   string
	store       repository.Store
	events      EventTracker
	commissions CommissionSubmitter
	cfg         TrackerConfig
	trusted     map[string]struct{}
	log         *zap.Logger
	now         func() time.Time

	session   models.TrackingSession
	links     map[string]models.AffiliateLink
	linkOrder []string
	model     models.AttributionModel
}

// NewTracker creates the tracker of the visitor identified by namespace.
// A session saved less than SessionTTL ago is restored, otherwise a fresh
// one is started from page.
func NewTracker(ctx context.Context, namespace string, page PageContext, deps TrackerDeps) *Tracker {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	cfg := deps.Config.withDefaults()

	t := &Tracker{
		namespace:   namespace,
		store:       deps.Store,
		events:      deps.Events,
		commissions: deps.Commissions,
		cfg:         cfg,
		trusted:     make(map[string]struct{}, len(cfg.TrustedOrigins)),
		log:         log.With(zap.String("visitor", namespace)),
		now:         clock,
		links:       make(map[string]models.AffiliateLink),
		model:       models.DefaultAttributionModel,
	}
	for _, origin := range cfg.TrustedOrigins {
		t.trusted[origin] = struct{}{}
	}

	if !t.restore(ctx) {
		t.session = models.TrackingSession{
			SessionID:       uuid.NewString(),
			StartTime:       clock().UnixMilli(),
			AffiliateClicks: []models.ConversionEvent{},
			Conversions:     []models.ConversionEvent{},
			UTMParams:       CaptureUTM(page.LandingPage),
			Referrer:        page.Referrer,
			LandingPage:     page.LandingPage,
		}
	}
	return t
}

// restore loads the saved session. Any failure falls back to a fresh session.
func (t *Tracker) restore(ctx context.Context) bool {
	if t.store == nil {
		return false
	}
	raw, ok, err := t.store.GetItem(ctx, t.namespace, SessionStorageKey)
	if err != nil {
		t.log.Warn("Failed to load tracking session", zap.Error(err))
		return false
	}
	if !ok {
		return false
	}

	var state models.PersistedState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		t.log.Warn("Discarding corrupted tracking session", zap.Error(err))
		return false
	}
	if state.CurrentSession.SessionID == "" || state.CurrentSession.Age(t.now()) >= t.cfg.SessionTTL {
		return false
	}

	t.session = state.CurrentSession
	if t.session.AffiliateClicks == nil {
		t.session.AffiliateClicks = []models.ConversionEvent{}
	}
	if t.session.Conversions == nil {
		t.session.Conversions = []models.ConversionEvent{}
	}
	for _, entry := range state.AffiliateLinks {
		t.putLink(entry.ID, entry.Link)
	}
	t.log.Debug("Tracking session restored", zap.String("session_id", t.session.SessionID))
	return true
}

func (t *Tracker) putLink(id string, link models.AffiliateLink) {
	link.ID = id
	if _, exists := t.links[id]; !exists {
		t.linkOrder = append(t.linkOrder, id)
	}
	t.links[id] = link
}

// RegisterAffiliateLink stores link under a freshly generated id and returns it.
func (t *Tracker) RegisterAffiliateLink(ctx context.Context, link models.AffiliateLink) (string, error) {
	t.mu.Lock()
	id, err := newLinkID(t.links)
	if err != nil {
		t.mu.Unlock()
		return "", err
	}
	t.putLink(id, link)
	t.mu.Unlock()

	t.log.Info("Affiliate link registered", zap.String("affiliate_id", id), zap.String("product", link.ProductName))
	// The link is usable even if persisting it failed; Save already logged.
	_ = t.Save(ctx)
	return id, nil
}

// registerWithID registers a catalog link under its configured id.
func (t *Tracker) registerWithID(link models.AffiliateLink) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.putLink(link.ID, link)
}

// Link returns a registered link.
func (t *Tracker) Link(id string) (models.AffiliateLink, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	link, ok := t.links[id]
	return link, ok
}

// Links returns every registered link in registration order.
func (t *Tracker) Links() []models.AffiliateLink {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.AffiliateLink, 0, len(t.linkOrder))
	for _, id := range t.linkOrder {
		out = append(out, t.links[id])
	}
	return out
}

// GenerateTrackingURL returns the affiliate URL decorated with the tracking parameters.
func (t *Tracker) GenerateTrackingURL(affiliateID string, custom map[string]string) (string, error) {
	t.mu.Lock()
	link, ok := t.links[affiliateID]
	sessionID := t.session.SessionID
	t.mu.Unlock()

	if !ok {
		return "", fmt.Errorf("%w: %s", customerrors.ErrAffiliateNotFound, affiliateID)
	}
	return BuildTrackingURL(link, t.cfg.RefTag, sessionID, custom)
}

// HandleClick inspects an anchor click. When the resolved href carries the
// aid of a registered link, a click event is recorded and returned.
func (t *Tracker) HandleClick(ctx context.Context, in models.ClickInput) (*models.ConversionEvent, bool) {
	t.mu.Lock()

	baseURL := in.BaseURL
	if baseURL == "" {
		baseURL = t.session.LandingPage
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		t.mu.Unlock()
		return nil, false
	}
	ref, err := url.Parse(in.Href)
	if err != nil {
		t.mu.Unlock()
		return nil, false
	}
	aid := base.ResolveReference(ref).Query().Get("aid")
	link, ok := t.links[aid]
	if aid == "" || !ok {
		t.mu.Unlock()
		return nil, false
	}

	referrer := in.Referrer
	if referrer == "" {
		referrer = t.session.Referrer
	}
	click := models.ConversionEvent{
		AffiliateID:    aid,
		ConversionType: models.ConversionClick,
		Timestamp:      t.now().UnixMilli(),
		UserAgent:      in.UserAgent,
		Referrer:       referrer,
		SessionID:      t.session.SessionID,
	}
	t.session.AffiliateClicks = append(t.session.AffiliateClicks, click)
	position := len(t.session.AffiliateClicks)
	t.appendClickLog(ctx, click)
	t.mu.Unlock()

	if t.events != nil {
		t.events.TrackAffiliateClick(analytics.AffiliateClick{
			AffiliateID: aid,
			ProductName: link.ProductName,
			Provider:    link.Provider,
			Category:    link.Category,
			Commission:  link.Commission,
			Position:    position,
			SessionID:   click.SessionID,
		})
	}
	t.log.Debug("Affiliate click tracked", zap.String("affiliate_id", aid), zap.Int("position", position))
	return &click, true
}

// appendClickLog adds click to the bounded click log. Caller holds t.mu.
func (t *Tracker) appendClickLog(ctx context.Context, click models.ConversionEvent) {
	if t.store == nil {
		return
	}
	var logged []models.ConversionEvent
	raw, ok, err := t.store.GetItem(ctx, t.namespace, ClickLogStorageKey)
	if err != nil {
		t.log.Warn("Failed to read click log", zap.Error(err))
		return
	}
	if ok {
		if err := json.Unmarshal([]byte(raw), &logged); err != nil {
			t.log.Warn("Resetting corrupted click log", zap.Error(err))
			logged = nil
		}
	}
	logged = append(logged, click)
	if len(logged) > t.cfg.ClickLogLimit {
		logged = logged[len(logged)-t.cfg.ClickLogLimit:]
	}

	data, err := json.Marshal(logged)
	if err != nil {
		t.log.Warn("Failed to encode click log", zap.Error(err))
		return
	}
	if err := t.store.SetItem(ctx, t.namespace, ClickLogStorageKey, string(data)); err != nil {
		t.log.Warn("Failed to write click log", zap.Error(err))
	}
}

// ClickLog returns the persisted click log.
func (t *Tracker) ClickLog(ctx context.Context) ([]models.ConversionEvent, error) {
	if t.store == nil {
		return nil, nil
	}
	raw, ok, err := t.store.GetItem(ctx, t.namespace, ClickLogStorageKey)
	if err != nil || !ok {
		return nil, err
	}
	var logged []models.ConversionEvent
	if err := json.Unmarshal([]byte(raw), &logged); err != nil {
		return nil, fmt.Errorf("failed to decode click log: %w", err)
	}
	return logged, nil
}

// RecordConversion appends event to the session, attributes it and reports
// the commission of an attributed, valued conversion. Commission reporting
// never fails the call.
func (t *Tracker) RecordConversion(ctx context.Context, event models.ConversionEvent) Attribution {
	t.mu.Lock()
	if event.Timestamp == 0 {
		event.Timestamp = t.now().UnixMilli()
	}
	if event.SessionID == "" {
		event.SessionID = t.session.SessionID
	}
	if event.Currency == "" {
		event.Currency = defaultCurrency
	}
	if event.ConversionType == "" {
		event.ConversionType = models.ConversionSale
	}
	t.session.Conversions = append(t.session.Conversions, event)

	result := Attribute(t.session.AffiliateClicks, event, t.model)
	link, hasLink := t.links[event.AffiliateID]
	t.mu.Unlock()

	for _, credit := range result.Credits {
		t.log.Debug("Conversion credit",
			zap.String("affiliate_id", credit.Click.AffiliateID),
			zap.Int64("click_timestamp", credit.Click.Timestamp),
			zap.Float64("weight", credit.Weight))
	}

	var value float64
	if event.Value != nil {
		value = *event.Value
	}
	if t.events != nil {
		t.events.TrackConversion(analytics.Conversion{
			AffiliateID:    event.AffiliateID,
			ConversionType: string(event.ConversionType),
			Value:          value,
			Currency:       event.Currency,
			OrderID:        event.OrderID,
			SessionID:      event.SessionID,
			Attributed:     result.Attributed(),
		})
	}

	if result.Attributed() && event.Value != nil && hasLink {
		commission := value * (link.Commission / 100)
		result.Commission = &commission
		t.reportCommission(models.CommissionRecord{
			AffiliateID:     event.AffiliateID,
			OrderID:         event.OrderID,
			ConversionValue: value,
			Commission:      commission,
			Currency:        event.Currency,
		})
	}

	if err := t.Save(ctx); err != nil {
		t.log.Warn("Conversion recorded but session not saved", zap.Error(err))
	}
	return result
}

func (t *Tracker) reportCommission(rec models.CommissionRecord) {
	if t.commissions == nil {
		return
	}
	if err := t.commissions.Submit(rec); err != nil {
		t.log.Warn("Commission record dropped",
			zap.String("affiliate_id", rec.AffiliateID),
			zap.Error(err))
	}
}

// conversionMessage is the cross-frame conversion payload.
type conversionMessage struct {
	Type           string   `json:"type"`
	AffiliateID    string   `json:"affiliateId"`
	ConversionType string   `json:"conversionType"`
	Value          *float64 `json:"value"`
	Currency       string   `json:"currency"`
	OrderID        string   `json:"orderId"`
}

const conversionMessageType = "affiliate_conversion"

// HandleMessage feeds a cross-frame conversion message into RecordConversion.
// Messages from origins outside the trusted list are rejected.
func (t *Tracker) HandleMessage(ctx context.Context, origin string, payload []byte) (Attribution, error) {
	if _, ok := t.trusted[origin]; !ok {
		t.log.Warn("Ignoring message from untrusted origin", zap.String("origin", origin))
		return Attribution{}, fmt.Errorf("%w: %q", customerrors.ErrUntrustedOrigin, origin)
	}

	var msg conversionMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Attribution{}, fmt.Errorf("%w: %v", customerrors.ErrMalformedMessage, err)
	}
	if msg.Type != conversionMessageType {
		return Attribution{}, fmt.Errorf("%w: unexpected type %q", customerrors.ErrMalformedMessage, msg.Type)
	}
	if msg.AffiliateID == "" {
		return Attribution{}, fmt.Errorf("%w: missing affiliateId", customerrors.ErrMalformedMessage)
	}
	convType := models.ConversionSale
	if msg.ConversionType != "" {
		convType = models.ConversionType(msg.ConversionType)
		if !convType.Valid() {
			return Attribution{}, fmt.Errorf("%w: unknown conversion type %q", customerrors.ErrMalformedMessage, msg.ConversionType)
		}
	}

	return t.RecordConversion(ctx, models.ConversionEvent{
		AffiliateID:    msg.AffiliateID,
		ConversionType: convType,
		Value:          msg.Value,
		Currency:       msg.Currency,
		OrderID:        msg.OrderID,
		Referrer:       origin,
	}), nil
}

// Lifecycle states reported by the page.
const (
	LifecycleHidden  = "hidden"
	LifecycleVisible = "visible"
	LifecycleUnload  = "unload"
)

// HandleLifecycle saves the session when the page is hidden or unloaded.
// Other states are ignored.
func (t *Tracker) HandleLifecycle(ctx context.Context, state string) error {
	switch state {
	case LifecycleHidden, LifecycleUnload:
		return t.Save(ctx)
	}
	return nil
}

// SetUserID attaches a user id to the session.
func (t *Tracker) SetUserID(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.session.UserID = userID
}

// SetAttributionModel replaces the active attribution model.
func (t *Tracker) SetAttributionModel(model models.AttributionModel) error {
	if !model.Valid() {
		return fmt.Errorf("%w: %q", customerrors.ErrInvalidAttributionModel, model.Type)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.model = model
	return nil
}

// AttributionModel returns the active attribution model.
func (t *Tracker) AttributionModel() models.AttributionModel {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.model
}

// Session returns a snapshot of the current session.
func (t *Tracker) Session() models.TrackingSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session.Clone()
}

// Expired reports whether the session is older than the session TTL.
func (t *Tracker) Expired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session.Age(t.now()) >= t.cfg.SessionTTL
}

// AffiliatePerformance aggregates one affiliate's activity in the session.
type AffiliatePerformance struct {
	AffiliateID string  `json:"affiliateId"`
	Clicks      int     `json:"clicks"`
	Conversions int     `json:"conversions"`
	Value       float64 `json:"value"`
}

// SessionAnalytics is the read-only aggregate of a session.
type SessionAnalytics struct {
	SessionID       string                 `json:"sessionId"`
	ClickCount      int                    `json:"clickCount"`
	ConversionCount int                    `json:"conversionCount"`
	TotalValue      float64                `json:"totalValue"`
	TopAffiliates   []AffiliatePerformance `json:"topAffiliates"`
}

// GetSessionAnalytics summarises the session. Affiliates are ranked by
// conversion value, then clicks, then id.
func (t *Tracker) GetSessionAnalytics() SessionAnalytics {
	t.mu.Lock()
	defer t.mu.Unlock()

	perf := make(map[string]*AffiliatePerformance)
	get := func(id string) *AffiliatePerformance {
		p, ok := perf[id]
		if !ok {
			p = &AffiliatePerformance{AffiliateID: id}
			perf[id] = p
		}
		return p
	}

	out := SessionAnalytics{
		SessionID:       t.session.SessionID,
		ClickCount:      len(t.session.AffiliateClicks),
		ConversionCount: len(t.session.Conversions),
		TopAffiliates:   []AffiliatePerformance{},
	}
	for _, click := range t.session.AffiliateClicks {
		get(click.AffiliateID).Clicks++
	}
	for _, conv := range t.session.Conversions {
		p := get(conv.AffiliateID)
		p.Conversions++
		if conv.Value != nil {
			p.Value += *conv.Value
			out.TotalValue += *conv.Value
		}
	}

	for _, p := range perf {
		out.TopAffiliates = append(out.TopAffiliates, *p)
	}
	sort.Slice(out.TopAffiliates, func(i, j int) bool {
		a, b := out.TopAffiliates[i], out.TopAffiliates[j]
		if a.Value != b.Value {
			return a.Value > b.Value
		}
		if a.Clicks != b.Clicks {
			return a.Clicks > b.Clicks
		}
		return a.AffiliateID < b.AffiliateID
	})
	return out
}

// Save persists the session and the registered links.
func (t *Tracker) Save(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	t.mu.Lock()
	state := models.PersistedState{
		CurrentSession: t.session.Clone(),
		AffiliateLinks: make([]models.LinkEntry, 0, len(t.linkOrder)),
	}
	for _, id := range t.linkOrder {
		state.AffiliateLinks = append(state.AffiliateLinks, models.LinkEntry{ID: id, Link: t.links[id]})
	}
	t.mu.Unlock()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode tracking session: %w", err)
	}
	if err := t.store.SetItem(ctx, t.namespace, SessionStorageKey, string(data)); err != nil {
		t.log.Warn("Failed to save tracking session", zap.Error(err))
		return fmt.Errorf("failed to save tracking session: %w", err)
	}
	return nil
}
