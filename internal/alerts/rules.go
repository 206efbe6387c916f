package alerts

import (
	"fmt"
	"strconv"

	"telemetry-service/internal/models"
)

// Thresholds used by Evaluate.
const (
	LowBatterySOC  = 20
	HighTempC      = 60.0
	OverloadLoadW  = 5000
	genericMessage = "Warning condition detected"
)

// Evaluate returns every rule the signals breach, in fixed order:
// low battery, high temperature, overload, grid loss. The generic
// warning is only emitted when nothing else matched and the status is not OK.
func Evaluate(s models.Signals) []models.AlertCandidate {
	var out []models.AlertCandidate

	if s.SOC != nil && *s.SOC < LowBatterySOC {
		out = append(out, models.AlertCandidate{
			Type:     models.AlertLowBattery,
			Severity: models.SeverityWarn,
			Message:  fmt.Sprintf("Battery low (%d%%)", *s.SOC),
		})
	}

	if s.TempC != nil && *s.TempC > HighTempC {
		out = append(out, models.AlertCandidate{
			Type:     models.AlertHighTemp,
			Severity: models.SeverityCritical,
			Message:  fmt.Sprintf("Temperature high (%s°C)", formatNumber(*s.TempC)),
		})
	}

	if s.LoadW != nil && *s.LoadW > OverloadLoadW {
		out = append(out, models.AlertCandidate{
			Type:     models.AlertOverload,
			Severity: models.SeverityCritical,
			Message:  fmt.Sprintf("Load overload (%dW)", *s.LoadW),
		})
	}

	notOK := s.Status != nil && *s.Status != "" && *s.Status != models.StatusOK

	if s.GridW != nil && *s.GridW == 0 && notOK {
		out = append(out, models.AlertCandidate{
			Type:     models.AlertGridLoss,
			Severity: models.SeverityWarn,
			Message:  fmt.Sprintf("Grid loss detected (status: %s)", *s.Status),
		})
	}

	if len(out) == 0 && notOK {
		out = append(out, models.AlertCandidate{
			Type:     models.AlertWarnGeneric,
			Severity: models.SeverityWarn,
			Message:  genericMessage,
		})
	}

	return out
}

// formatNumber prints the shortest form of v, so 70 renders as "70" and 61.5 as "61.5".
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
