package seo

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// Monitor holds the latest observed document of a page and the issues
// derived from it. Each validation pass owns its category: it clears the
// category's issues before appending fresh ones.
type Monitor struct {
	mu       sync.Mutex
	doc      *goquery.Document
	headHash string
	bodyHash string
	issues   []Issue
	log      *zap.Logger
	now      func() time.Time
}

// NewMonitor creates a Monitor over an empty document.
func NewMonitor(log *zap.Logger) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	doc, _ := goquery.NewDocumentFromReader(strings.NewReader(""))
	return &Monitor{doc: doc, log: log, now: time.Now}
}

// Change reports which validation passes an observation triggered.
type Change struct {
	Head bool `json:"head"`
	Body bool `json:"body"`
}

// Observe replaces the current document with html. Only the passes whose
// section fingerprint changed are re-run.
func (m *Monitor) Observe(html string) (Change, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Change{}, fmt.Errorf("failed to parse document: %w", err)
	}
	head, body := DocumentFingerprints(doc)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.doc = doc
	change := Change{Head: head != m.headHash, Body: body != m.bodyHash}
	if change.Head {
		m.headHash = head
		m.replaceCategory(CategoryMeta, ValidateMeta(doc))
	}
	if change.Body {
		m.bodyHash = body
		m.replaceCategory(CategoryContent, ValidateContent(doc))
	}
	if change.Head || change.Body {
		m.log.Debug("Document changed",
			zap.Bool("head", change.Head),
			zap.Bool("body", change.Body),
			zap.Int("issues", len(m.issues)))
	}
	return change, nil
}

// replaceCategory drops the category's issues and appends fresh. Caller holds m.mu.
func (m *Monitor) replaceCategory(category string, fresh []Issue) {
	kept := m.issues[:0:0]
	for _, issue := range m.issues {
		if issue.Category != category {
			kept = append(kept, issue)
		}
	}
	m.issues = append(kept, fresh...)
}

// Issues returns a copy of the current issue list.
func (m *Monitor) Issues() []Issue {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Issue(nil), m.issues...)
}

// Observed reports whether a document has been observed.
func (m *Monitor) Observed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.headHash != ""
}

// Fingerprints returns the head and body hashes of the last observed document.
func (m *Monitor) Fingerprints() (head, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.headHash, m.bodyHash
}

// DocumentFingerprints returns content hashes of the document's head and body.
func DocumentFingerprints(doc *goquery.Document) (head, body string) {
	return sectionHash(doc.Find("head")), sectionHash(doc.Find("body"))
}

func sectionHash(s *goquery.Selection) string {
	html, err := s.Html()
	if err != nil {
		html = s.Text()
	}
	sum := sha256.Sum256([]byte(html))
	return hex.EncodeToString(sum[:])
}

// Metrics are the raw counters attached to a report.
type Metrics struct {
	TitleLength         int `json:"titleLength"`
	DescriptionLength   int `json:"descriptionLength"`
	H1Count             int `json:"h1Count"`
	HeadingCount        int `json:"headingCount"`
	ImageCount          int `json:"imageCount"`
	ImagesWithoutAlt    int `json:"imagesWithoutAlt"`
	StructuredDataCount int `json:"structuredDataCount"`
	ErrorCount          int `json:"errorCount"`
	WarningCount        int `json:"warningCount"`
	InfoCount           int `json:"infoCount"`
	HighImpact          int `json:"highImpact"`
	MediumImpact        int `json:"mediumImpact"`
	LowImpact           int `json:"lowImpact"`
}

// Report is a scored snapshot of the monitored document.
type Report struct {
	Score           int       `json:"score"`
	Issues          []Issue   `json:"issues"`
	Recommendations []string  `json:"recommendations"`
	Metrics         Metrics   `json:"metrics"`
	Timestamp       time.Time `json:"timestamp"`
}

// GenerateReport re-runs both validation passes on the current document
// and scores the result.
func (m *Monitor) GenerateReport() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.replaceCategory(CategoryMeta, ValidateMeta(m.doc))
	m.replaceCategory(CategoryContent, ValidateContent(m.doc))
	m.headHash, m.bodyHash = DocumentFingerprints(m.doc)

	issues := append([]Issue(nil), m.issues...)
	metrics := documentMetrics(m.doc)
	countIssues(&metrics, issues)

	return Report{
		Score:           Score(issues),
		Issues:          issues,
		Recommendations: Recommendations(issues),
		Metrics:         metrics,
		Timestamp:       m.now(),
	}
}

// Score is 100 minus 20 per high, 10 per medium and 5 per low impact
// issue, floored at 0.
func Score(issues []Issue) int {
	score := 100
	for _, issue := range issues {
		switch issue.Impact {
		case ImpactHigh:
			score -= 20
		case ImpactMedium:
			score -= 10
		case ImpactLow:
			score -= 5
		}
	}
	if score < 0 {
		return 0
	}
	return score
}

type recommendationRule struct {
	needle          string
	caseInsensitive bool
	text            string
}

var recommendationRules = []recommendationRule{
	{"title", true, "Optimize page title length to 10-60 characters"},
	{"description", false, "Write a compelling meta description of 50-160 characters"},
	{"H1", false, "Use exactly one H1 tag per page"},
	{"alt", false, "Add descriptive alt text to all images"},
	{"structured data", true, "Add valid structured data markup (JSON-LD)"},
	{"canonical", true, "Add a canonical URL to prevent duplicate content"},
	{"Open Graph", false, "Add Open Graph tags for social sharing"},
	{"heading", true, "Fix heading hierarchy so levels are not skipped"},
}

// Recommendations derives one suggestion per rule whose keyword appears in
// any issue message, in rule order.
func Recommendations(issues []Issue) []string {
	out := []string{}
	for _, rule := range recommendationRules {
		for _, issue := range issues {
			msg, needle := issue.Message, rule.needle
			if rule.caseInsensitive {
				msg, needle = strings.ToLower(msg), strings.ToLower(needle)
			}
			if strings.Contains(msg, needle) {
				out = append(out, rule.text)
				break
			}
		}
	}
	return out
}

func documentMetrics(doc *goquery.Document) Metrics {
	missing, _ := imageAltCounts(doc)
	return Metrics{
		TitleLength:         len([]rune(pageTitle(doc))),
		DescriptionLength:   len([]rune(metaDescription(doc))),
		H1Count:             doc.Find("h1").Length(),
		HeadingCount:        doc.Find("h1, h2, h3, h4, h5, h6").Length(),
		ImageCount:          doc.Find("img").Length(),
		ImagesWithoutAlt:    missing,
		StructuredDataCount: len(structuredDataBlocks(doc)),
	}
}

func countIssues(m *Metrics, issues []Issue) {
	for _, issue := range issues {
		switch issue.Type {
		case TypeError:
			m.ErrorCount++
		case TypeWarning:
			m.WarningCount++
		case TypeInfo:
			m.InfoCount++
		}
		switch issue.Impact {
		case ImpactHigh:
			m.HighImpact++
		case ImpactMedium:
			m.MediumImpact++
		case ImpactLow:
			m.LowImpact++
		}
	}
}
