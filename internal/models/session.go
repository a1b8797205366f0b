package models

import "time"

// TrackingSession is the per-visitor attribution state. Clicks and
// conversions are append-only for the lifetime of the session.
type TrackingSession struct {
	SessionID       string            `json:"sessionId"`
	UserID          string            `json:"userId,omitempty"`
	StartTime       int64             `json:"startTime"`
	AffiliateClicks []ConversionEvent `json:"affiliateClicks"`
	Conversions     []ConversionEvent `json:"conversions"`
	UTMParams       *UTMParams        `json:"utmParams,omitempty"`
	Referrer        string            `json:"referrer"`
	LandingPage     string            `json:"landingPage"`
}

// Age returns how long ago the session started relative to now.
func (s *TrackingSession) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(s.StartTime))
}

// Clone returns a deep copy safe to hand out of the tracker's lock.
func (s *TrackingSession) Clone() TrackingSession {
	out := *s
	out.AffiliateClicks = append([]ConversionEvent(nil), s.AffiliateClicks...)
	out.Conversions = append([]ConversionEvent(nil), s.Conversions...)
	if s.UTMParams != nil {
		utm := *s.UTMParams
		out.UTMParams = &utm
	}
	return out
}

// AttributionModelType names the supported credit assignment strategies.
type AttributionModelType string

const (
	FirstClick    AttributionModelType = "first_click"
	LastClick     AttributionModelType = "last_click"
	Linear        AttributionModelType = "linear"
	TimeDecay     AttributionModelType = "time_decay"
	PositionBased AttributionModelType = "position_based"
)

// AttributionModel configures how conversions are credited to clicks.
// LookbackWindow is expressed in days.
type AttributionModel struct {
	Type           AttributionModelType `json:"type"`
	LookbackWindow int                  `json:"lookbackWindow"`
}

// DefaultAttributionModel is last click over a 30 day window.
var DefaultAttributionModel = AttributionModel{Type: LastClick, LookbackWindow: 30}

// Valid reports whether the model type is known and the window non-negative.
func (m AttributionModel) Valid() bool {
	switch m.Type {
	case FirstClick, LastClick, Linear, TimeDecay, PositionBased:
		return m.LookbackWindow >= 0
	}
	return false
}

// PersistedState is the JSON document stored under the session key.
// Links are kept as ordered [id, link] pairs.
type PersistedState struct {
	CurrentSession TrackingSession `json:"currentSession"`
	AffiliateLinks []LinkEntry     `json:"affiliateLinks"`
}
