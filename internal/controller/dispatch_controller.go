// internal/controller/dispatch_controller.go
package controller

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/unclebandit/mailcast-backend/internal/service"
)

type TickRunner interface {
	RunTick(ctx context.Context) (service.TickResult, error)
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type DispatchController struct {
	Dispatcher TickRunner
	DB         Pinger
	Log        zerolog.Logger
}

// TriggerTick runs one dispatch tick synchronously. Per-broadcast failures are reported
// in the body alongside the counters.
func (c *DispatchController) TriggerTick(w http.ResponseWriter, r *http.Request) {
	res, err := c.Dispatcher.RunTick(r.Context())

	body := map[string]interface{}{"result": res}
	status := http.StatusOK
	if err != nil {
		c.Log.Error().Err(err).Msg("manual dispatch tick finished with errors")
		body["error"] = err.Error()
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (c *DispatchController) Health(w http.ResponseWriter, r *http.Request) {
	if c.DB != nil {
		if err := c.DB.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
