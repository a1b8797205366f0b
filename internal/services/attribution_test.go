package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axellelanca/trailtrack/internal/models"
)

func clickAt(aid string, ts int64) models.ConversionEvent {
	return models.ConversionEvent{AffiliateID: aid, ConversionType: models.ConversionClick, Timestamp: ts}
}

func TestAttribute_ModelsPickTheRightClick(t *testing.T) {
	base := int64(1_700_000_000_000)
	clicks := []models.ConversionEvent{
		clickAt("A", base),
		clickAt("B", base+500),
		clickAt("A", base+1000),
		clickAt("A", base+2000),
	}
	conv := models.ConversionEvent{AffiliateID: "A", ConversionType: models.ConversionSale, Timestamp: base + 5000}

	first := Attribute(clicks, conv, models.AttributionModel{Type: models.FirstClick, LookbackWindow: 30})
	require.True(t, first.Attributed())
	assert.Equal(t, base, first.Primary.Timestamp)

	last := Attribute(clicks, conv, models.AttributionModel{Type: models.LastClick, LookbackWindow: 30})
	require.True(t, last.Attributed())
	assert.Equal(t, base+2000, last.Primary.Timestamp)

	linear := Attribute(clicks, conv, models.AttributionModel{Type: models.Linear, LookbackWindow: 30})
	require.Len(t, linear.Credits, 3)
	for _, c := range linear.Credits {
		assert.InDelta(t, 1.0/3.0, c.Weight, 1e-9)
		assert.Equal(t, "A", c.Click.AffiliateID)
	}
	assert.Equal(t, base+2000, linear.Primary.Timestamp)
}

func TestAttribute_UnimplementedModelsFallBackToLastClick(t *testing.T) {
	clicks := []models.ConversionEvent{clickAt("A", 10), clickAt("A", 20)}
	conv := models.ConversionEvent{AffiliateID: "A", Timestamp: 30}

	for _, typ := range []models.AttributionModelType{models.TimeDecay, models.PositionBased} {
		res := Attribute(clicks, conv, models.AttributionModel{Type: typ, LookbackWindow: 1})
		require.True(t, res.Attributed(), typ)
		assert.Equal(t, int64(20), res.Primary.Timestamp, typ)
	}
}

func TestAttribute_LookbackWindow(t *testing.T) {
	base := int64(1_700_000_000_000)
	clicks := []models.ConversionEvent{clickAt("A", base)}

	inside := models.ConversionEvent{AffiliateID: "A", Timestamp: base + 30*msPerDay}
	assert.True(t, Attribute(clicks, inside, models.DefaultAttributionModel).Attributed())

	outside := models.ConversionEvent{AffiliateID: "A", Timestamp: base + 30*msPerDay + 1}
	res := Attribute(clicks, outside, models.DefaultAttributionModel)
	assert.False(t, res.Attributed())
	assert.Empty(t, res.Credits)
}

func TestAttribute_OtherAffiliateIsNotEligible(t *testing.T) {
	clicks := []models.ConversionEvent{clickAt("B", 100)}
	res := Attribute(clicks, models.ConversionEvent{AffiliateID: "A", Timestamp: 200}, models.DefaultAttributionModel)
	assert.False(t, res.Attributed())
}
