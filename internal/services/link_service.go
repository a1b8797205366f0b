// Package services contains the attribution tracking business logic.
package services

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"net/url"
	"sort"

	customerrors "github.com/axellelanca/trailtrack/internal/errors"
	"github.com/axellelanca/trailtrack/internal/models"
)

// charset defines the character set used for generating link ids.
// Uses alphanumeric characters (both cases) for a total of 62 possible characters.
const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// linkIDPrefix and linkIDLength shape generated affiliate link ids, e.g. "aff_x7Kp2mQ9a".
const (
	linkIDPrefix = "aff_"
	linkIDLength = 9
)

// GenerateCode generates a cryptographically secure random code.
// Parameters:
//   - length: the desired length of the generated code
//
// Returns:
//   - string: the generated random code
//   - error: any error that occurred during generation
func GenerateCode(length int) (string, error) {
	code := make([]byte, length)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", fmt.Errorf("failed to generate random number: %w", err)
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

// newLinkID returns a fresh affiliate link id that does not collide with taken.
func newLinkID(taken map[string]models.AffiliateLink) (string, error) {
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		code, err := GenerateCode(linkIDLength)
		if err != nil {
			return "", err
		}
		id := linkIDPrefix + code
		if _, exists := taken[id]; !exists {
			return id, nil
		}
	}
	return "", fmt.Errorf("failed to generate unique affiliate link id after %d attempts", maxRetries)
}

// BuildTrackingURL decorates the link's affiliate URL with the tracking
// parameters. Parameters are applied in a fixed order with replace-on-key
// semantics, so later sources win: ref, sid, aid, the link's UTM defaults,
// then custom params (in sorted key order).
func BuildTrackingURL(link models.AffiliateLink, refTag, sessionID string, custom map[string]string) (string, error) {
	u, err := url.Parse(link.AffiliateURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q", customerrors.ErrInvalidAffiliateURL, link.AffiliateURL)
	}

	q := u.Query()
	q.Set("ref", refTag)
	q.Set("sid", sessionID)
	q.Set("aid", link.ID)
	for _, kv := range link.UTMParams.Pairs() {
		q.Set(kv[0], kv[1])
	}

	keys := make([]string, 0, len(custom))
	for k := range custom {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q.Set(k, custom[k])
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// CaptureUTM extracts campaign tags from a landing page URL. Source, medium
// and campaign must all be present, otherwise nil is returned.
func CaptureUTM(landingPage string) *models.UTMParams {
	u, err := url.Parse(landingPage)
	if err != nil {
		return nil
	}
	q := u.Query()
	source, medium, campaign := q.Get("utm_source"), q.Get("utm_medium"), q.Get("utm_campaign")
	if source == "" || medium == "" || campaign == "" {
		return nil
	}
	return &models.UTMParams{
		Source:   source,
		Medium:   medium,
		Campaign: campaign,
		Term:     q.Get("utm_term"),
		Content:  q.Get("utm_content"),
	}
}
