package openhands

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hugo-lorenzo-mato/openhands-runner/internal/core"
)

func TestMapStatus_Statuses(t *testing.T) {
	tests := []struct {
		remote string
		want   core.RunStatus
	}{
		{"COMPLETED", core.RunStatusCompleted},
		{"finished", core.RunStatusCompleted},
		{"FAILED", core.RunStatusFailed},
		{"error", core.RunStatusFailed},
		{"STOPPED", core.RunStatusFailed},
		{"CANCELLED", core.RunStatusFailed},
		{"RUNNING", core.RunStatusRunning},
		{"STARTING", core.RunStatusRunning},
		{"", core.RunStatusRunning},
	}
	for _, tt := range tests {
		t.Run(tt.remote, func(t *testing.T) {
			st := MapStatus(map[string]interface{}{"status": tt.remote})
			assert.Equal(t, tt.want, st.Status)
		})
	}
}

func TestMapStatus_Percent(t *testing.T) {
	steps := func(n int) []interface{} { return make([]interface{}, n) }

	tests := []struct {
		name string
		body map[string]interface{}
		want int
	}{
		{"no steps", map[string]interface{}{"status": "RUNNING"}, 5},
		{"five steps", map[string]interface{}{"steps": steps(5)}, 30},
		{"messages fallback", map[string]interface{}{"messages": steps(2)}, 15},
		{"capped at 95", map[string]interface{}{"steps": steps(40)}, 95},
		{"reported percent", map[string]interface{}{"percent": float64(42), "steps": steps(1)}, 42},
		{"reported fraction", map[string]interface{}{"progress": 0.6}, 60},
		{"reported full ratio", map[string]interface{}{"progress": 1.0}, 100},
		{"reported progress percent", map[string]interface{}{"progress": float64(42)}, 42},
		{"reported one percent", map[string]interface{}{"percent": float64(1)}, 1},
		{"reported overflow", map[string]interface{}{"percent": float64(180)}, 100},
		{"completed forces 100", map[string]interface{}{"status": "COMPLETED", "steps": steps(1)}, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MapStatus(tt.body).Percent)
		})
	}
}
