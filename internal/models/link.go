package models

// UTMParams holds campaign attribution tags, either captured from a landing
// page query string or attached to an affiliate link as defaults.
type UTMParams struct {
	Source   string `json:"utm_source" mapstructure:"utm_source"`
	Medium   string `json:"utm_medium" mapstructure:"utm_medium"`
	Campaign string `json:"utm_campaign" mapstructure:"utm_campaign"`
	Term     string `json:"utm_term,omitempty" mapstructure:"utm_term"`
	Content  string `json:"utm_content,omitempty" mapstructure:"utm_content"`
}

// Pairs returns the non-empty tags in their canonical query order.
func (u *UTMParams) Pairs() [][2]string {
	if u == nil {
		return nil
	}
	var pairs [][2]string
	for _, kv := range [][2]string{
		{"utm_source", u.Source},
		{"utm_medium", u.Medium},
		{"utm_campaign", u.Campaign},
		{"utm_term", u.Term},
		{"utm_content", u.Content},
	} {
		if kv[1] != "" {
			pairs = append(pairs, kv)
		}
	}
	return pairs
}

// AffiliateLink représente une relation d'affiliation sortante enregistrée.
// Commission is a percentage of the conversion value.
type AffiliateLink struct {
	ID           string     `json:"id" mapstructure:"id"`
	OriginalURL  string     `json:"originalUrl" mapstructure:"original_url"`
	AffiliateURL string     `json:"affiliateUrl" mapstructure:"affiliate_url"`
	ProductName  string     `json:"productName" mapstructure:"product_name"`
	ProductID    string     `json:"productId" mapstructure:"product_id"`
	Category     string     `json:"category" mapstructure:"category"`
	Provider     string     `json:"provider" mapstructure:"provider"`
	Commission   float64    `json:"commission" mapstructure:"commission"`
	UTMParams    *UTMParams `json:"utmParams,omitempty" mapstructure:"utm_params"`
}
