package opshttp

import (
	"encoding/json"
	"net/http"

	"github.com/keithlinneman/linnemanlabs-throttle/internal/health"
	"github.com/keithlinneman/linnemanlabs-throttle/internal/version"
)

type statusResponse struct {
	Limit            int     `json:"limit"`
	Window           string  `json:"window"`
	WindowSeconds    float64 `json:"window_seconds"`
	Immediate        uint64  `json:"granted_immediately"`
	Waited           uint64  `json:"granted_after_wait"`
	Busy             uint64  `json:"busy"`
	Interrupted      uint64  `json:"interrupted"`
	TotalWaitSeconds float64 `json:"total_wait_seconds"`
	Ready            bool    `json:"ready"`
	NotReadyReason   string  `json:"not_ready_reason,omitempty"`

	Build version.Info `json:"build"`
}

// statusHandler reports the throttle's configuration and counters as JSON.
func statusHandler(sp StatusProvider, readiness health.Probe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := sp.Stats()
		resp := statusResponse{
			Limit:            sp.Limit(),
			Window:           sp.Window().String(),
			WindowSeconds:    sp.Window().Seconds(),
			Immediate:        st.Immediate,
			Waited:           st.Waited,
			Busy:             st.Busy,
			Interrupted:      st.Interrupted,
			TotalWaitSeconds: st.TotalWait.Seconds(),
			Ready:            true,
			Build:            version.Get(),
		}
		if readiness != nil {
			if err := readiness.Check(r.Context()); err != nil {
				resp.Ready = false
				resp.NotReadyReason = err.Error()
			}
		}

		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(resp)
	}
}
