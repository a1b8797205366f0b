package models

// ConversionType enumerates what happened on the merchant side.
type ConversionType string

const (
	ConversionClick ConversionType = "click"
	ConversionSale  ConversionType = "sale"
	ConversionLead  ConversionType = "lead"
	ConversionView  ConversionType = "view"
)

// Valid reports whether t is one of the known conversion types.
func (t ConversionType) Valid() bool {
	switch t {
	case ConversionClick, ConversionSale, ConversionLead, ConversionView:
		return true
	}
	return false
}

// ConversionEvent represents both affiliate clicks and downstream conversions.
// A click is simply a ConversionEvent whose type is ConversionClick.
// Timestamp is expressed in Unix milliseconds so the JSON stored in the
// session matches what the page snippet sends.
type ConversionEvent struct {
	AffiliateID    string         `json:"affiliateId"`
	ConversionType ConversionType `json:"conversionType"`
	Value          *float64       `json:"value,omitempty"`
	Currency       string         `json:"currency,omitempty"`
	OrderID        string         `json:"orderId,omitempty"`
	Timestamp      int64          `json:"timestamp"`
	UserAgent      string         `json:"userAgent"`
	Referrer       string         `json:"referrer"`
	SessionID      string         `json:"sessionId"`
}

// IsClick reports whether the event is a click.
func (e ConversionEvent) IsClick() bool {
	return e.ConversionType == ConversionClick
}

// ClickInput is the raw anchor click reported by the page snippet.
// Href may be relative; it is resolved against BaseURL.
type ClickInput struct {
	Href      string `json:"href" binding:"required"`
	BaseURL   string `json:"baseUrl"`
	UserAgent string `json:"-"`
	Referrer  string `json:"referrer"`
}

// CommissionRecord is the body POSTed to the commission endpoint.
type CommissionRecord struct {
	AffiliateID     string  `json:"affiliateId"`
	OrderID         string  `json:"orderId,omitempty"`
	ConversionValue float64 `json:"conversionValue"`
	Commission      float64 `json:"commission"`
	Currency        string  `json:"currency"`
}
