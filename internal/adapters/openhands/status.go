package openhands

import (
	"math"
	"strings"

	"github.com/hugo-lorenzo-mato/openhands-runner/internal/core"
)

// MapStatus converts a conversation payload into the engine's view. Remote
// cancellation is reported as FAILED; only the engine produces CANCELLED.
func MapStatus(body map[string]interface{}) *core.RemoteStatus {
	status := mapRemoteStatus(stringField(body, "status"))
	return &core.RemoteStatus{
		Status:  status,
		Percent: estimatePercent(body, status),
		Raw:     body,
	}
}

func mapRemoteStatus(s string) core.RunStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "COMPLETED", "FINISHED":
		return core.RunStatusCompleted
	case "FAILED", "ERROR", "STOPPED", "CANCELLED", "CANCELED":
		return core.RunStatusFailed
	default:
		return core.RunStatusRunning
	}
}

// estimatePercent prefers a reported percent or progress value and falls
// back to 5 points per step or message, capped at 95 until completion.
func estimatePercent(body map[string]interface{}, status core.RunStatus) int {
	if status == core.RunStatusCompleted {
		return 100
	}
	if v, ok := body["percent"].(float64); ok {
		// A percent below 1 is a misreported ratio
		if v > 0 && v < 1 {
			v *= 100
		}
		return core.ClampPercent(int(math.Round(v)))
	}
	if v, ok := body["progress"].(float64); ok {
		// progress is a ratio in [0, 1]; larger values are already percents
		if v <= 1 {
			v *= 100
		}
		return core.ClampPercent(int(math.Round(v)))
	}

	steps := 0
	for _, key := range []string{"steps", "messages"} {
		if list, ok := body[key].([]interface{}); ok && len(list) > 0 {
			steps = len(list)
			break
		}
	}
	return min(95, 5+5*steps)
}
