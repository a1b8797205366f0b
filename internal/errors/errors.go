package errors

import (
	"errors"
	"fmt"
)

// Custom error types for the tracking and SEO services

// ErrAffiliateNotFound is returned when an affiliate id was never registered
var ErrAffiliateNotFound = errors.New("affiliate link not found")

// ErrInvalidAffiliateURL is returned when a link's affiliate URL cannot be parsed
var ErrInvalidAffiliateURL = errors.New("invalid affiliate URL")

// ErrInvalidAttributionModel is returned for unknown model types or negative windows
var ErrInvalidAttributionModel = errors.New("invalid attribution model")

// ErrUntrustedOrigin is returned when a cross-frame message comes from an origin outside the allow-list
var ErrUntrustedOrigin = errors.New("untrusted message origin")

// ErrMalformedMessage is returned when a cross-frame message payload cannot be used
var ErrMalformedMessage = errors.New("malformed message payload")

// ErrTestNotFound is returned when an A/B test id is unknown
var ErrTestNotFound = errors.New("seo test not found")

// ErrVariantNotFound is returned when a variant id does not belong to the test
var ErrVariantNotFound = errors.New("seo test variant not found")

// ErrNoVariants is returned when a test is created without variants
var ErrNoVariants = errors.New("seo test requires at least one variant")

// ErrInvalidVariant is returned when a variant id is repeated or its traffic share is outside 0-100
var ErrInvalidVariant = errors.New("invalid seo test variant")

// ErrPageNotObserved is returned when no document has been observed for a page yet
var ErrPageNotObserved = errors.New("page has not been observed")

// ErrInvalidMetric is returned when a test metric has an unknown type
var ErrInvalidMetric = errors.New("invalid test metric")

// ErrBufferFull is returned when a fire-and-forget queue cannot accept more work
var ErrBufferFull = errors.New("buffer is full")

// ErrCommissionReportFailed is returned when the commission endpoint rejects or misses a record
type ErrCommissionReportFailed struct {
	AffiliateID string
	Reason      string
}

func (e ErrCommissionReportFailed) Error() string {
	return fmt.Sprintf("failed to report commission for affiliate %s: %s", e.AffiliateID, e.Reason)
}

// ErrPageFetchFailed is returned when a monitored or audited page cannot be fetched
type ErrPageFetchFailed struct {
	URL    string
	Reason string
}

func (e ErrPageFetchFailed) Error() string {
	return fmt.Sprintf("failed to fetch page %s: %s", e.URL, e.Reason)
}

// ErrConfigLoad is returned when configuration loading fails
type ErrConfigLoad struct {
	Path   string
	Reason string
}

func (e ErrConfigLoad) Error() string {
	return fmt.Sprintf("failed to load config from %s: %s", e.Path, e.Reason)
}
