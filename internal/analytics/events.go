package analytics

// Event names sent to the backend.
const (
	EventPageView       = "page_view"
	EventSearch         = "search"
	EventAffiliateClick = "affiliate_click"
	EventEngagement     = "user_engagement"
	EventPerformance    = "performance_metric"
	EventSEOMetric      = "seo_metric"
	EventError          = "exception"
	EventConversion     = "conversion"
	EventFeatureUsage   = "feature_usage"
)

// AffiliateClick describes an outbound affiliate click.
type AffiliateClick struct {
	AffiliateID string
	ProductName string
	Provider    string
	Category    string
	Commission  float64
	Position    int
	SessionID   string
}

// Conversion describes a conversion attributed (or not) to an affiliate.
type Conversion struct {
	AffiliateID    string
	ConversionType string
	Value          float64
	Currency       string
	OrderID        string
	SessionID      string
	Attributed     bool
}

func (c *Client) TrackPageView(pagePath, pageTitle string) {
	c.Track(EventPageView, map[string]any{
		"page_path":  pagePath,
		"page_title": pageTitle,
	})
}

func (c *Client) TrackSearch(term string, results int) {
	c.Track(EventSearch, map[string]any{
		"search_term":   term,
		"results_count": results,
	})
}

func (c *Client) TrackAffiliateClick(click AffiliateClick) {
	c.Track(EventAffiliateClick, map[string]any{
		"affiliate_id": click.AffiliateID,
		"product_name": click.ProductName,
		"provider":     click.Provider,
		"category":     click.Category,
		"commission":   click.Commission,
		"position":     click.Position,
		"session_id":   click.SessionID,
	})
}

func (c *Client) TrackEngagement(action, category string, value float64) {
	c.Track(EventEngagement, map[string]any{
		"action":   action,
		"category": category,
		"value":    value,
	})
}

// TrackPerformance records a timing or Core Web Vitals sample.
func (c *Client) TrackPerformance(metric string, value float64, page string) {
	c.Track(EventPerformance, map[string]any{
		"metric_name":  metric,
		"metric_value": value,
		"page_path":    page,
	})
}

func (c *Client) TrackSEOMetric(metric string, value float64, page string) {
	c.Track(EventSEOMetric, map[string]any{
		"metric_name":  metric,
		"metric_value": value,
		"page_path":    page,
	})
}

func (c *Client) TrackError(description string, fatal bool) {
	c.Track(EventError, map[string]any{
		"description": description,
		"fatal":       fatal,
	})
}

func (c *Client) TrackConversion(conv Conversion) {
	c.Track(EventConversion, map[string]any{
		"affiliate_id":    conv.AffiliateID,
		"conversion_type": conv.ConversionType,
		"value":           conv.Value,
		"currency":        conv.Currency,
		"order_id":        conv.OrderID,
		"session_id":      conv.SessionID,
		"attributed":      conv.Attributed,
	})
}

func (c *Client) TrackFeatureUsage(feature, action string) {
	c.Track(EventFeatureUsage, map[string]any{
		"feature_name": feature,
		"action":       action,
	})
}
