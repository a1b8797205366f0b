package services

import (
	"github.com/axellelanca/trailtrack/internal/models"
)

const msPerDay = int64(24 * 60 * 60 * 1000)

// Credit is the share of a conversion assigned to one click.
type Credit struct {
	Click  models.ConversionEvent `json:"click"`
	Weight float64                `json:"weight"`
}

// Attribution is the outcome of crediting one conversion.
// Primary is nil when no eligible click exists.
type Attribution struct {
	Model      models.AttributionModelType `json:"model"`
	Primary    *models.ConversionEvent     `json:"primary,omitempty"`
	Credits    []Credit                    `json:"credits,omitempty"`
	Commission *float64                    `json:"commission,omitempty"`
}

// Attributed reports whether a click was credited.
func (a Attribution) Attributed() bool {
	return a.Primary != nil
}

// EligibleClicks returns the clicks on the same affiliate that fall inside
// the model's lookback window, in session order.
func EligibleClicks(clicks []models.ConversionEvent, conversion models.ConversionEvent, lookbackDays int) []models.ConversionEvent {
	cutoff := conversion.Timestamp - int64(lookbackDays)*msPerDay
	var eligible []models.ConversionEvent
	for _, click := range clicks {
		if !click.IsClick() || click.AffiliateID != conversion.AffiliateID {
			continue
		}
		if click.Timestamp >= cutoff {
			eligible = append(eligible, click)
		}
	}
	return eligible
}

// Attribute credits conversion to the session's clicks using model.
// time_decay and position_based have no weighting curve yet and behave
// like last_click.
func Attribute(clicks []models.ConversionEvent, conversion models.ConversionEvent, model models.AttributionModel) Attribution {
	result := Attribution{Model: model.Type}

	eligible := EligibleClicks(clicks, conversion, model.LookbackWindow)
	if len(eligible) == 0 {
		return result
	}

	var primary models.ConversionEvent
	switch model.Type {
	case models.FirstClick:
		primary = earliest(eligible)
		result.Credits = []Credit{{Click: primary, Weight: 1}}
	case models.Linear:
		weight := 1 / float64(len(eligible))
		for _, click := range eligible {
			result.Credits = append(result.Credits, Credit{Click: click, Weight: weight})
		}
		primary = latest(eligible)
	default:
		primary = latest(eligible)
		result.Credits = []Credit{{Click: primary, Weight: 1}}
	}

	result.Primary = &primary
	return result
}

func earliest(clicks []models.ConversionEvent) models.ConversionEvent {
	best := clicks[0]
	for _, c := range clicks[1:] {
		if c.Timestamp < best.Timestamp {
			best = c
		}
	}
	return best
}

func latest(clicks []models.ConversionEvent) models.ConversionEvent {
	best := clicks[0]
	for _, c := range clicks[1:] {
		if c.Timestamp >= best.Timestamp {
			best = c
		}
	}
	return best
}
