package simulator

import (
	"math"
	"math/rand"
	"time"

	"telemetry-service/internal/models"
)

// Generation model constants.
const (
	startSOC        = 65.0
	minSOC          = 5.0
	maxSOC          = 100.0
	socChargeStep   = 0.02
	socDrainStep    = 0.03
	baseBatteryV    = 50.8
	gridOutageRatio = 0.15
)

// generator produces a plausible inverter trace. Only state of charge carries
// over between points.
type generator struct {
	rng *rand.Rand
	loc *time.Location
	soc float64
}

func newGenerator(rng *rand.Rand, loc *time.Location) *generator {
	if loc == nil {
		loc = time.Local
	}
	return &generator{rng: rng, loc: loc, soc: startSOC}
}

// next builds the reading for ts and advances the state of charge.
func (g *generator) next(deviceID string, ts time.Time) models.Reading {
	local := ts.In(g.loc)
	hour := float64(local.Hour()) + float64(local.Minute())/60
	daylight := math.Max(0, math.Sin((hour-6)/12*math.Pi))

	solarW := int(math.Round(300 + daylight*2500 + g.noise(60)))
	loadW := int(math.Round(600 + g.rng.Float64()*1400))

	gridW := 0
	if g.rng.Float64() >= gridOutageRatio {
		gridW = int(math.Round(200 + g.rng.Float64()*900))
	}

	inverterW := loadW - gridW
	if inverterW < 0 {
		inverterW = 0
	}

	netW := solarW - inverterW
	batteryA := round(float64(netW)/50+g.noise(1), 2)

	if netW > 0 {
		g.soc += socChargeStep
	} else {
		g.soc -= socDrainStep
	}
	g.soc = math.Max(minSOC, math.Min(maxSOC, g.soc))
	soc := int(math.Round(g.soc))

	tempC := round(30+float64(inverterW)/500+g.rng.Float64()*2, 1)
	batteryV := round(baseBatteryV+float64(soc-50)*0.03+g.noise(0.1), 2)

	status := models.StatusOK
	if soc < 20 || tempC > 60 || loadW > 5000 {
		status = models.StatusWarn
	}

	return models.Reading{
		DeviceID:  deviceID,
		Timestamp: ts,
		SolarW:    &solarW,
		LoadW:     &loadW,
		GridW:     &gridW,
		InverterW: &inverterW,
		BatteryV:  &batteryV,
		BatteryA:  &batteryA,
		SOC:       &soc,
		TempC:     &tempC,
		Status:    status,
		CreatedAt: ts,
	}
}

// noise is uniform in [-amp, amp).
func (g *generator) noise(amp float64) float64 {
	return g.rng.Float64()*2*amp - amp
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
