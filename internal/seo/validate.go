// Package seo validates page markup and keeps a scored list of SEO issues.
package seo

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// IssueType is the severity class of an issue.
type IssueType string

const (
	TypeError   IssueType = "error"
	TypeWarning IssueType = "warning"
	TypeInfo    IssueType = "info"
)

// Impact weighs an issue in the score.
type Impact string

const (
	ImpactHigh   Impact = "high"
	ImpactMedium Impact = "medium"
	ImpactLow    Impact = "low"
)

// Issue categories, one per validation pass.
const (
	CategoryMeta    = "meta"
	CategoryContent = "content"
)

// Issue is one detected SEO problem.
type Issue struct {
	Type     IssueType `json:"type"`
	Category string    `json:"category"`
	Message  string    `json:"message"`
	Element  string    `json:"element,omitempty"`
	Impact   Impact    `json:"impact"`
}

// Length bands for title and meta description, in characters.
const (
	titleMinLength       = 10
	titleMaxLength       = 60
	descriptionMinLength = 50
	descriptionMaxLength = 160
)

var openGraphTags = []string{"og:title", "og:description", "og:image"}

// ValidateMeta checks the document head: title, description, canonical
// link and Open Graph tags.
func ValidateMeta(doc *goquery.Document) []Issue {
	var issues []Issue
	add := func(t IssueType, impact Impact, element, msg string) {
		issues = append(issues, Issue{Type: t, Category: CategoryMeta, Message: msg, Element: element, Impact: impact})
	}

	title := pageTitle(doc)
	if title == "" {
		add(TypeError, ImpactHigh, "title", "Missing page title")
	} else if n := utf8.RuneCountInString(title); n < titleMinLength || n > titleMaxLength {
		add(TypeWarning, ImpactMedium, "title",
			fmt.Sprintf("Title length should be between %d-%d characters (current: %d)", titleMinLength, titleMaxLength, n))
	}

	desc := metaDescription(doc)
	if desc == "" {
		add(TypeError, ImpactHigh, `meta[name="description"]`, "Missing meta description")
	} else if n := utf8.RuneCountInString(desc); n < descriptionMinLength || n > descriptionMaxLength {
		add(TypeWarning, ImpactMedium, `meta[name="description"]`,
			fmt.Sprintf("Meta description should be between %d-%d characters (current: %d)", descriptionMinLength, descriptionMaxLength, n))
	}

	canonical := strings.TrimSpace(doc.Find(`link[rel="canonical"]`).First().AttrOr("href", ""))
	if canonical == "" {
		add(TypeWarning, ImpactMedium, `link[rel="canonical"]`, "Missing canonical URL")
	} else if !strings.HasPrefix(strings.ToLower(canonical), "https://") {
		add(TypeWarning, ImpactLow, `link[rel="canonical"]`, "Canonical URL should use HTTPS")
	}

	for _, tag := range openGraphTags {
		if doc.Find(fmt.Sprintf(`meta[property="%s"]`, tag)).Length() == 0 {
			add(TypeWarning, ImpactMedium, fmt.Sprintf(`meta[property="%s"]`, tag), "Missing Open Graph tag: "+tag)
		}
	}
	return issues
}

// ValidateContent checks the document body: headings, images and
// structured data.
func ValidateContent(doc *goquery.Document) []Issue {
	var issues []Issue
	add := func(t IssueType, impact Impact, element, msg string) {
		issues = append(issues, Issue{Type: t, Category: CategoryContent, Message: msg, Element: element, Impact: impact})
	}

	h1Count := doc.Find("h1").Length()
	switch {
	case h1Count == 0:
		add(TypeError, ImpactHigh, "h1", "Missing H1 tag")
	case h1Count > 1:
		add(TypeWarning, ImpactMedium, "h1", fmt.Sprintf("Multiple H1 tags found (%d)", h1Count))
	}

	levels := headingLevels(doc)
	if len(levels) > 0 && levels[0] != 1 {
		add(TypeWarning, ImpactLow, fmt.Sprintf("h%d", levels[0]), fmt.Sprintf("First heading should be H1 (found H%d)", levels[0]))
	}
	for i := 1; i < len(levels); i++ {
		if levels[i] > levels[i-1]+1 {
			add(TypeWarning, ImpactMedium, fmt.Sprintf("h%d", levels[i]),
				fmt.Sprintf("Heading hierarchy skips from H%d to H%d", levels[i-1], levels[i]))
		}
	}

	missingAlt, emptyAlt := imageAltCounts(doc)
	if missingAlt > 0 {
		add(TypeWarning, ImpactMedium, "img", fmt.Sprintf("%d images missing alt attribute", missingAlt))
	}
	if emptyAlt > 0 {
		add(TypeInfo, ImpactLow, "img", fmt.Sprintf("%d images have empty alt text (decorative)", emptyAlt))
	}

	blocks := structuredDataBlocks(doc)
	if len(blocks) == 0 {
		add(TypeInfo, ImpactLow, `script[type="application/ld+json"]`, "No structured data found")
	}
	for _, block := range blocks {
		switch checkStructuredData(block) {
		case structuredInvalidJSON:
			add(TypeWarning, ImpactMedium, `script[type="application/ld+json"]`, "Invalid structured data JSON")
		case structuredMissingFields:
			add(TypeWarning, ImpactMedium, `script[type="application/ld+json"]`, "Structured data missing @context or @type")
		}
	}
	return issues
}

func pageTitle(doc *goquery.Document) string {
	return strings.TrimSpace(doc.Find("title").First().Text())
}

func metaDescription(doc *goquery.Document) string {
	return strings.TrimSpace(doc.Find(`meta[name="description"]`).First().AttrOr("content", ""))
}

// headingLevels returns the level of every h1-h6 in document order.
func headingLevels(doc *goquery.Document) []int {
	var levels []int
	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		name := goquery.NodeName(s)
		levels = append(levels, int(name[1]-'0'))
	})
	return levels
}

// imageAltCounts counts images without an alt attribute and images whose
// alt is present but blank.
func imageAltCounts(doc *goquery.Document) (missing, empty int) {
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		alt, ok := s.Attr("alt")
		switch {
		case !ok:
			missing++
		case strings.TrimSpace(alt) == "":
			empty++
		}
	})
	return missing, empty
}

func structuredDataBlocks(doc *goquery.Document) []string {
	var blocks []string
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		blocks = append(blocks, s.Text())
	})
	return blocks
}

type structuredResult int

const (
	structuredOK structuredResult = iota
	structuredInvalidJSON
	structuredMissingFields
)

// checkStructuredData parses one JSON-LD block. A top level array is valid
// when every element carries @context and @type.
func checkStructuredData(block string) structuredResult {
	var data any
	if err := json.Unmarshal([]byte(block), &data); err != nil {
		return structuredInvalidJSON
	}
	hasFields := func(v any) bool {
		obj, ok := v.(map[string]any)
		if !ok {
			return false
		}
		_, hasContext := obj["@context"]
		_, hasType := obj["@type"]
		return hasContext && hasType
	}
	switch v := data.(type) {
	case []any:
		if len(v) == 0 {
			return structuredMissingFields
		}
		for _, item := range v {
			if !hasFields(item) {
				return structuredMissingFields
			}
		}
		return structuredOK
	default:
		if !hasFields(v) {
			return structuredMissingFields
		}
		return structuredOK
	}
}
