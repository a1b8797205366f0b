package seotest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	customerrors "github.com/axellelanca/trailtrack/internal/errors"
)

// Vitals thresholds above which the audit warns. Times are in milliseconds.
const (
	lcpThreshold  = 2500.0
	fcpThreshold  = 1800.0
	clsThreshold  = 0.1
	ttfbThreshold = 800.0
)

// AuditResult accumulates the outcome of one audit section.
type AuditResult struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	Passed   []string `json:"passed"`
}

func newAuditResult() AuditResult {
	return AuditResult{Errors: []string{}, Warnings: []string{}, Passed: []string{}}
}

func (r *AuditResult) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *AuditResult) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *AuditResult) pass(msg string) {
	r.Passed = append(r.Passed, msg)
}

// AuditReport is the result of a one-shot audit.
type AuditReport struct {
	URL           string      `json:"url"`
	Score         int         `json:"score"`
	Vitals        Vitals      `json:"vitals"`
	Performance   AuditResult `json:"performance"`
	Meta          AuditResult `json:"meta"`
	Content       AuditResult `json:"content"`
	Accessibility AuditResult `json:"accessibility"`
	Schema        AuditResult `json:"schema"`
	Timestamp     time.Time   `json:"timestamp"`
}

func (r *AuditReport) sections() []*AuditResult {
	return []*AuditResult{&r.Performance, &r.Meta, &r.Content, &r.Accessibility, &r.Schema}
}

// Auditor runs one-shot audits independent of the continuous monitor.
type Auditor struct {
	httpClient *http.Client
	sampler    *VitalsSampler
	log        *zap.Logger
}

func NewAuditor(sampler *VitalsSampler, log *zap.Logger) *Auditor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Auditor{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		sampler:    sampler,
		log:        log,
	}
}

// RunSEOAudit fetches pageURL, samples its vitals for the collection
// window and runs the meta, content, accessibility and schema checks.
func (a *Auditor) RunSEOAudit(ctx context.Context, pageURL string) (*AuditReport, error) {
	sampling := a.sampler.Begin(pageURL)

	html, ttfb, err := a.fetch(ctx, pageURL)
	if err != nil {
		sampling.Wait(ctx)
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		sampling.Wait(ctx)
		return nil, customerrors.ErrPageFetchFailed{URL: pageURL, Reason: err.Error()}
	}

	report := AuditReport{
		URL:           pageURL,
		Performance:   newAuditResult(),
		Meta:          newAuditResult(),
		Content:       newAuditResult(),
		Accessibility: newAuditResult(),
		Schema:        newAuditResult(),
	}
	checkMeta(doc, &report.Meta)
	checkContent(doc, &report.Content)
	checkAccessibility(doc, &report.Accessibility)
	checkSchema(doc, &report.Schema)

	report.Vitals = sampling.Wait(ctx)
	if ttfb > 0 {
		ms := float64(ttfb) / float64(time.Millisecond)
		report.Vitals.TTFB = &ms
	}
	checkVitals(report.Vitals, &report.Performance)

	report.Score = AuditScore(report.sections()...)
	report.Timestamp = time.Now()

	a.log.Info("SEO audit completed",
		zap.String("url", pageURL),
		zap.Int("score", report.Score))
	return &report, nil
}

// AuditScore is 100 minus 10 per error and 5 per warning, floored at 0.
func AuditScore(sections ...*AuditResult) int {
	score := 100
	for _, s := range sections {
		score -= 10*len(s.Errors) + 5*len(s.Warnings)
	}
	if score < 0 {
		return 0
	}
	return score
}

// fetch downloads the page and measures time to first byte.
func (a *Auditor) fetch(ctx context.Context, pageURL string) (string, time.Duration, error) {
	var start time.Time
	var ttfb time.Duration
	trace := &httptrace.ClientTrace{
		GotFirstResponseByte: func() { ttfb = time.Since(start) },
	}

	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), http.MethodGet, pageURL, nil)
	if err != nil {
		return "", 0, customerrors.ErrPageFetchFailed{URL: pageURL, Reason: err.Error()}
	}
	start = time.Now()
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", 0, customerrors.ErrPageFetchFailed{URL: pageURL, Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return "", 0, customerrors.ErrPageFetchFailed{URL: pageURL, Reason: fmt.Sprintf("status %d", resp.StatusCode)}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return "", 0, customerrors.ErrPageFetchFailed{URL: pageURL, Reason: err.Error()}
	}
	return string(body), ttfb, nil
}

func checkVitals(v Vitals, r *AuditResult) {
	check := func(name string, value *float64, threshold float64, unit string) {
		switch {
		case value == nil:
			return
		case *value > threshold:
			r.warnf("%s is %.2f%s (should be under %g%s)", name, *value, unit, threshold, unit)
		default:
			r.pass(fmt.Sprintf("%s is good (%.2f%s)", name, *value, unit))
		}
	}
	check("LCP", v.LCP, lcpThreshold, "ms")
	check("FCP", v.FCP, fcpThreshold, "ms")
	check("CLS", v.CLS, clsThreshold, "")
	check("TTFB", v.TTFB, ttfbThreshold, "ms")
}

func checkMeta(doc *goquery.Document, r *AuditResult) {
	title := strings.TrimSpace(doc.Find("title").First().Text())
	switch n := utf8.RuneCountInString(title); {
	case title == "":
		r.errorf("Missing page title")
	case n < 10 || n > 60:
		r.warnf("Title length should be between 10-60 characters (current: %d)", n)
	default:
		r.pass("Title length is optimal")
	}

	desc := strings.TrimSpace(doc.Find(`meta[name="description"]`).First().AttrOr("content", ""))
	switch n := utf8.RuneCountInString(desc); {
	case desc == "":
		r.errorf("Missing meta description")
	case n < 50 || n > 160:
		r.warnf("Meta description should be between 50-160 characters (current: %d)", n)
	default:
		r.pass("Meta description length is optimal")
	}

	if doc.Find(`link[rel="canonical"]`).Length() == 0 {
		r.warnf("Missing canonical URL")
	} else {
		r.pass("Canonical URL is set")
	}

	if doc.Find(`meta[name="viewport"]`).Length() == 0 {
		r.warnf("Missing viewport meta tag")
	} else {
		r.pass("Viewport meta tag is set")
	}

	var missing []string
	for _, tag := range []string{"og:title", "og:description", "og:image"} {
		if doc.Find(fmt.Sprintf(`meta[property="%s"]`, tag)).Length() == 0 {
			missing = append(missing, tag)
		}
	}
	if len(missing) > 0 {
		r.warnf("Missing Open Graph tags: %s", strings.Join(missing, ", "))
	} else {
		r.pass("Open Graph tags are complete")
	}
}

func checkContent(doc *goquery.Document, r *AuditResult) {
	switch h1 := doc.Find("h1").Length(); {
	case h1 == 0:
		r.errorf("Missing H1 tag")
	case h1 > 1:
		r.warnf("Multiple H1 tags found (%d)", h1)
	default:
		r.pass("Single H1 tag")
	}

	prev := 0
	skipped := false
	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		level := int(goquery.NodeName(s)[1] - '0')
		if prev > 0 && level > prev+1 {
			r.warnf("Heading hierarchy skips from H%d to H%d", prev, level)
			skipped = true
		}
		prev = level
	})
	if !skipped && prev > 0 {
		r.pass("Heading hierarchy is sequential")
	}
}

func checkAccessibility(doc *goquery.Document, r *AuditResult) {
	if lang := strings.TrimSpace(doc.Find("html").AttrOr("lang", "")); lang == "" {
		r.warnf("Missing lang attribute on <html>")
	} else {
		r.pass("Document language is declared")
	}

	missingAlt := 0
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		if _, ok := s.Attr("alt"); !ok {
			missingAlt++
		}
	})
	if missingAlt > 0 {
		r.errorf("%d images missing alt attribute", missingAlt)
	} else {
		r.pass("All images have alt attributes")
	}

	unlabeled := 0
	doc.Find("input, select, textarea").Each(func(_ int, s *goquery.Selection) {
		switch strings.ToLower(s.AttrOr("type", "")) {
		case "hidden", "submit", "button", "reset", "image":
			return
		}
		if !hasLabel(doc, s) {
			unlabeled++
		}
	})
	if unlabeled > 0 {
		r.warnf("%d form fields without a label", unlabeled)
	} else {
		r.pass("Form fields are labelled")
	}

	emptyLinks := 0
	doc.Find("a").Each(func(_ int, s *goquery.Selection) {
		if strings.TrimSpace(s.Text()) != "" || strings.TrimSpace(s.AttrOr("aria-label", "")) != "" {
			return
		}
		if strings.TrimSpace(s.Find("img[alt]").AttrOr("alt", "")) != "" {
			return
		}
		emptyLinks++
	})
	if emptyLinks > 0 {
		r.warnf("%d links without text", emptyLinks)
	} else {
		r.pass("Links have descriptive text")
	}
}

func hasLabel(doc *goquery.Document, s *goquery.Selection) bool {
	if strings.TrimSpace(s.AttrOr("aria-label", "")) != "" || s.AttrOr("aria-labelledby", "") != "" {
		return true
	}
	if id := s.AttrOr("id", ""); id != "" && doc.Find(fmt.Sprintf(`label[for=%q]`, id)).Length() > 0 {
		return true
	}
	return s.Closest("label").Length() > 0
}

func checkSchema(doc *goquery.Document, r *AuditResult) {
	blocks := doc.Find(`script[type="application/ld+json"]`)
	if blocks.Length() == 0 {
		r.warnf("No structured data found")
		return
	}
	valid := 0
	blocks.Each(func(i int, s *goquery.Selection) {
		var data map[string]any
		if err := json.Unmarshal([]byte(s.Text()), &data); err != nil {
			var list []map[string]any
			if json.Unmarshal([]byte(s.Text()), &list) != nil {
				r.errorf("Invalid structured data JSON in block %d", i+1)
				return
			}
			if len(list) > 0 {
				data = list[0]
			}
		}
		_, hasContext := data["@context"]
		_, hasType := data["@type"]
		if !hasContext || !hasType {
			r.warnf("Structured data block %d missing @context or @type", i+1)
			return
		}
		valid++
	})
	if valid > 0 {
		r.pass(fmt.Sprintf("%d valid structured data blocks", valid))
	}
}
