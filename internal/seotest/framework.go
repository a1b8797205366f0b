// Package seotest runs SEO A/B experiments and one-shot page audits.
package seotest

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
	"unicode/utf16"

	"github.com/google/uuid"
	"go.uber.org/zap"

	customerrors "github.com/axellelanca/trailtrack/internal/errors"
)

// TestType is what a test varies.
type TestType string

const (
	TypeTitle           TestType = "title"
	TypeMetaDescription TestType = "meta_description"
	TypeContent         TestType = "content"
	TypeSchema          TestType = "schema"
)

// Status of a test.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// Variant is one arm of a test. TrafficPercentage is in [0, 100].
type Variant struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Content           string  `json:"content"`
	TrafficPercentage float64 `json:"trafficPercentage"`
	Impressions       int     `json:"impressions"`
	Clicks            int     `json:"clicks"`
	Conversions       int     `json:"conversions"`
	ConversionValue   float64 `json:"conversionValue"`
	CTR               float64 `json:"ctr"`
}

// Test is an SEO experiment.
type Test struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      TestType  `json:"type"`
	Variants  []Variant `json:"variants"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	Status    Status    `json:"status"`
}

func (t *Test) clone() Test {
	out := *t
	out.Variants = append([]Variant(nil), t.Variants...)
	return out
}

// VariantConfig declares a variant when creating a test. An empty ID is
// replaced by "variant_<index>".
type VariantConfig struct {
	ID                string  `json:"id"`
	Name              string  `json:"name" binding:"required"`
	Content           string  `json:"content"`
	TrafficPercentage float64 `json:"trafficPercentage"`
}

// TestConfig declares a test.
type TestConfig struct {
	Name         string          `json:"name" binding:"required"`
	Type         TestType        `json:"type"`
	Variants     []VariantConfig `json:"variants"`
	DurationDays int             `json:"durationDays"`
}

// MetricType is the kind of event recorded against a variant.
type MetricType string

const (
	MetricImpression MetricType = "impression"
	MetricClick      MetricType = "click"
	MetricConversion MetricType = "conversion"
)

// Metric is one recorded event. Value is only accumulated for conversions.
type Metric struct {
	Type  MetricType `json:"type" binding:"required"`
	Value float64    `json:"value"`
}

// defaultDurationDays applies when a test is created without a duration.
const defaultDurationDays = 30

// Framework keeps the tests in memory.
type Framework struct {
	mu    sync.Mutex
	tests map[string]*Test
	order []string
	log   *zap.Logger
	now   func() time.Time
	draw  func() float64
}

// NewFramework creates an empty Framework.
func NewFramework(log *zap.Logger) *Framework {
	if log == nil {
		log = zap.NewNop()
	}
	return &Framework{
		tests: make(map[string]*Test),
		log:   log,
		now:   time.Now,
		draw:  rand.Float64,
	}
}

// CreateABTest registers an active test and returns its id. Variant ids
// must be unique and traffic percentages within 0-100.
func (f *Framework) CreateABTest(cfg TestConfig) (string, error) {
	if len(cfg.Variants) == 0 {
		return "", customerrors.ErrNoVariants
	}

	days := cfg.DurationDays
	if days <= 0 {
		days = defaultDurationDays
	}
	start := f.now()
	test := &Test{
		ID:        "seo_test_" + uuid.NewString(),
		Name:      cfg.Name,
		Type:      cfg.Type,
		StartDate: start,
		EndDate:   start.AddDate(0, 0, days),
		Status:    StatusActive,
	}
	seen := make(map[string]bool, len(cfg.Variants))
	for i, vc := range cfg.Variants {
		id := vc.ID
		if id == "" {
			id = fmt.Sprintf("variant_%d", i)
		}
		if seen[id] {
			return "", fmt.Errorf("%w: duplicate id %q", customerrors.ErrInvalidVariant, id)
		}
		seen[id] = true
		if vc.TrafficPercentage < 0 || vc.TrafficPercentage > 100 {
			return "", fmt.Errorf("%w: %q traffic percentage %v is outside 0-100",
				customerrors.ErrInvalidVariant, id, vc.TrafficPercentage)
		}
		test.Variants = append(test.Variants, Variant{
			ID:                id,
			Name:              vc.Name,
			Content:           vc.Content,
			TrafficPercentage: vc.TrafficPercentage,
		})
	}

	f.mu.Lock()
	f.tests[test.ID] = test
	f.order = append(f.order, test.ID)
	f.mu.Unlock()

	f.log.Info("SEO test created",
		zap.String("test_id", test.ID),
		zap.String("name", test.Name),
		zap.Int("variants", len(test.Variants)))
	return test.ID, nil
}

// GetTest returns a snapshot of a test.
func (f *Framework) GetTest(testID string) (Test, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	test, ok := f.tests[testID]
	if !ok {
		return Test{}, fmt.Errorf("%w: %s", customerrors.ErrTestNotFound, testID)
	}
	return test.clone(), nil
}

// ListTests returns every test in creation order.
func (f *Framework) ListTests() []Test {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Test, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.tests[id].clone())
	}
	return out
}

// UserBucket maps a user id onto [0, 1). It uses the 32-bit string hash
// h = h*31 + c over UTF-16 code units so ids bucket the same way the page
// snippet buckets them.
func UserBucket(userID string) float64 {
	var h int32
	for _, c := range utf16.Encode([]rune(userID)) {
		h = h*31 + int32(c)
	}
	abs := int64(h)
	if abs < 0 {
		abs = -abs
	}
	return float64(abs%10000) / 10000
}

// GetVariantForUser picks the variant a user sees. An empty userID gets a
// random draw. Inactive tests return nil without error.
func (f *Framework) GetVariantForUser(testID, userID string) (*Variant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	test, ok := f.tests[testID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", customerrors.ErrTestNotFound, testID)
	}
	f.expire(test)
	if test.Status != StatusActive || len(test.Variants) == 0 {
		return nil, nil
	}

	var bucket float64
	if userID == "" {
		bucket = f.draw()
	} else {
		bucket = UserBucket(userID)
	}

	cumulative := 0.0
	for i := range test.Variants {
		cumulative += test.Variants[i].TrafficPercentage / 100
		if cumulative >= bucket {
			v := test.Variants[i]
			return &v, nil
		}
	}
	v := test.Variants[0]
	return &v, nil
}

// expire completes a test past its end date. Caller holds f.mu.
func (f *Framework) expire(test *Test) {
	if test.Status == StatusActive && f.now().After(test.EndDate) {
		test.Status = StatusCompleted
		f.log.Info("SEO test reached its end date", zap.String("test_id", test.ID))
	}
}

// RecordTestMetric increments a variant counter and recomputes its CTR.
func (f *Framework) RecordTestMetric(testID, variantID string, metric Metric) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	test, ok := f.tests[testID]
	if !ok {
		return fmt.Errorf("%w: %s", customerrors.ErrTestNotFound, testID)
	}
	var variant *Variant
	for i := range test.Variants {
		if test.Variants[i].ID == variantID {
			variant = &test.Variants[i]
			break
		}
	}
	if variant == nil {
		return fmt.Errorf("%w: %s", customerrors.ErrVariantNotFound, variantID)
	}

	switch metric.Type {
	case MetricImpression:
		variant.Impressions++
	case MetricClick:
		variant.Clicks++
	case MetricConversion:
		variant.Conversions++
		variant.ConversionValue += metric.Value
	default:
		return fmt.Errorf("%w: %q", customerrors.ErrInvalidMetric, metric.Type)
	}
	if variant.Impressions > 0 {
		variant.CTR = float64(variant.Clicks) / float64(variant.Impressions)
	}
	return nil
}

func (f *Framework) setStatus(testID string, status Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	test, ok := f.tests[testID]
	if !ok {
		return fmt.Errorf("%w: %s", customerrors.ErrTestNotFound, testID)
	}
	test.Status = status
	f.log.Info("SEO test status changed", zap.String("test_id", testID), zap.String("status", string(status)))
	return nil
}

// PauseTest stops assigning variants.
func (f *Framework) PauseTest(testID string) error { return f.setStatus(testID, StatusPaused) }

// ResumeTest reactivates a paused test.
func (f *Framework) ResumeTest(testID string) error { return f.setStatus(testID, StatusActive) }

// CompleteTest ends a test.
func (f *Framework) CompleteTest(testID string) error { return f.setStatus(testID, StatusCompleted) }

// VariantResult compares one variant with the control.
type VariantResult struct {
	VariantID   string  `json:"variantId"`
	Name        string  `json:"name"`
	Impressions int     `json:"impressions"`
	Clicks      int     `json:"clicks"`
	Conversions int     `json:"conversions"`
	CTR         float64 `json:"ctr"`
	Improvement float64 `json:"improvement"`
}

// TestResults is the analysis of a test. Confidence is a traffic-volume
// heuristic capped at 95, not a significance test.
type TestResults struct {
	TestID           string          `json:"testId"`
	Status           Status          `json:"status"`
	Control          VariantResult   `json:"control"`
	Variants         []VariantResult `json:"variants"`
	Winner           *VariantResult  `json:"winner,omitempty"`
	TotalImpressions int             `json:"totalImpressions"`
	Confidence       float64         `json:"confidence"`
	Recommendation   string          `json:"recommendation"`
}

// AnalyzeTestResults compares every variant's CTR with the first variant.
func (f *Framework) AnalyzeTestResults(testID string) (*TestResults, error) {
	test, err := f.GetTest(testID)
	if err != nil {
		return nil, err
	}
	if len(test.Variants) == 0 {
		return nil, customerrors.ErrNoVariants
	}

	control := test.Variants[0]
	res := &TestResults{
		TestID:   test.ID,
		Status:   test.Status,
		Control:  toResult(control, 0),
		Variants: []VariantResult{},
	}

	total := 0
	for _, v := range test.Variants {
		total += v.Impressions
	}
	for _, v := range test.Variants[1:] {
		improvement := 0.0
		if control.CTR > 0 {
			improvement = (v.CTR - control.CTR) / control.CTR * 100
		}
		res.Variants = append(res.Variants, toResult(v, improvement))
	}

	for i := range res.Variants {
		v := res.Variants[i]
		if v.Improvement > 0 && (res.Winner == nil || v.Improvement > res.Winner.Improvement) {
			res.Winner = &v
		}
	}

	res.TotalImpressions = total
	res.Confidence = math.Min(95, float64(total)/1000*95)
	res.Recommendation = recommend(res)
	return res, nil
}

func toResult(v Variant, improvement float64) VariantResult {
	return VariantResult{
		VariantID:   v.ID,
		Name:        v.Name,
		Impressions: v.Impressions,
		Clicks:      v.Clicks,
		Conversions: v.Conversions,
		CTR:         v.CTR,
		Improvement: improvement,
	}
}

func recommend(res *TestResults) string {
	switch {
	case res.Winner == nil:
		return "No variant outperforms the control yet. Keep the control or continue testing."
	case res.Confidence >= 95:
		return fmt.Sprintf("Implement %s: CTR improved by %.1f%% over the control.", res.Winner.Name, res.Winner.Improvement)
	default:
		return fmt.Sprintf("%s is leading with a %.1f%% CTR improvement. Collect more impressions before deciding.", res.Winner.Name, res.Winner.Improvement)
	}
}
