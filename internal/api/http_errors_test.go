package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/hugo-lorenzo-mato/openhands-runner/internal/core"
)

func TestHttpStatusForDomainError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantOK     bool
	}{
		{"validation", core.ErrValidation(core.CodeEmptyPrompt, "bad"), http.StatusUnprocessableEntity, true},
		{"invalid payload", core.ErrValidation(core.CodeInvalidPayload, "bad json"), http.StatusBadRequest, true},
		{"not found", core.ErrNotFound("run", "x"), http.StatusNotFound, true},
		{"duplicate", core.ErrConflict(core.CodeDuplicateRun, "dup"), http.StatusConflict, true},
		{"auth", core.ErrAuth("bad signature"), http.StatusUnauthorized, true},
		{"upstream", core.ErrFatalUpstream("404"), http.StatusBadGateway, true},
		{"timeout", core.ErrTimeout("timed out"), http.StatusGatewayTimeout, true},
		{"wrapped", fmt.Errorf("get: %w", core.ErrNotFound("run", "x")), http.StatusNotFound, true},
		{"state (default)", core.ErrState(core.CodeInvalidTransition, "error"), http.StatusInternalServerError, true},
		{"non-domain error", errors.New("plain"), 0, false},
		{"nil error", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, ok := httpStatusForDomainError(tt.err)
			if ok != tt.wantOK {
				t.Errorf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
		})
	}
}
