package testing

import (
	"math"
	"time"
)

// PriceFixture is one daily close.
type PriceFixture struct {
	Asset string
	Date  time.Time
	Close float64
}

// FixtureStart is the first trading day produced by NewPriceFixtures.
var FixtureStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// NewPriceFixtures returns deterministic daily closes for each asset, one per calendar day
// starting at FixtureStart. Each asset gets its own drift and oscillation so the resulting
// returns are distinct and not perfectly correlated.
func NewPriceFixtures(assets []string, days int) []PriceFixture {
	fixtures := make([]PriceFixture, 0, len(assets)*days)
	for k, asset := range assets {
		price := 100.0 + 10*float64(k)
		for d := 0; d < days; d++ {
			if d > 0 {
				r := 0.0003*float64(k+1) +
					0.004*math.Sin(float64(d)*0.37) +
					0.006*math.Sin(float64(d)*(0.11+0.07*float64(k))+float64(k))
				price *= 1 + r
			}
			fixtures = append(fixtures, PriceFixture{
				Asset: asset,
				Date:  FixtureStart.AddDate(0, 0, d),
				Close: price,
			})
		}
	}
	return fixtures
}
