// Package admin serves the HTTP side of the game server: health, Prometheus
// metrics, a JSON view of the board and the WebSocket entry point.
package admin

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cyberinferno/dotgame/event"
	"github.com/cyberinferno/dotgame/logger"
	"github.com/cyberinferno/dotgame/registry"
)

// State is what the router reads from the game. *registry.Registry
// implements it.
type State interface {
	Snapshot() registry.Snapshot
	Len() int
}

// ColorMemory is the per-username color memory. *palette.Assigner
// implements it.
type ColorMemory interface {
	Forget(ctx context.Context, username string) error
	Remembered(ctx context.Context) (int, error)
}

// Options configures NewRouter. Nil Gatherer, WebSocket or Colors leave the
// matching route unmounted.
type Options struct {
	State     State
	Colors    ColorMemory
	Gatherer  prometheus.Gatherer
	WebSocket http.Handler
	Logger    logger.Logger
}

// StateResponse is the body of GET /api/state.
type StateResponse struct {
	Sessions     int               `json:"sessions"`
	Players      []string          `json:"players"`
	PlayerColors map[string]string `json:"playerColors"`
	Points       []PointResponse   `json:"points"`
	// RememberedColors is omitted when color memory is not wired.
	RememberedColors *int `json:"rememberedColors,omitempty"`
}

// PointResponse is one placed point in a StateResponse.
type PointResponse struct {
	Username string `json:"username"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Color    string `json:"color"`
}

// NewRouter builds the admin router.
func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Get("/api/state", stateHandler(opts.State, opts.Colors, opts.Logger))

	if opts.Colors != nil {
		r.Delete("/api/colors/{username}", forgetColorHandler(opts.Colors, opts.Logger))
	}

	if opts.WebSocket != nil {
		r.Handle("/ws", opts.WebSocket)
	}

	return r
}

func stateHandler(state State, colors ColorMemory, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := state.Snapshot()
		resp := StateResponse{
			Sessions:     state.Len(),
			Players:      snap.Players,
			PlayerColors: snap.PlayerColors,
			Points:       toPointResponses(snap.Points),
		}
		if resp.Players == nil {
			resp.Players = []string{}
		}
		if resp.PlayerColors == nil {
			resp.PlayerColors = map[string]string{}
		}
		if colors != nil {
			n, err := colors.Remembered(r.Context())
			if err != nil {
				if log != nil {
					log.Warn("counting remembered colors failed", logger.Err(err))
				}
			} else {
				resp.RememberedColors = &n
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil && log != nil {
			log.Warn("writing state response failed", logger.Err(err))
		}
	}
}

func toPointResponses(points []event.Point) []PointResponse {
	out := make([]PointResponse, len(points))
	for i, p := range points {
		out[i] = PointResponse{Username: p.Username, X: p.X, Y: p.Y, Color: p.Color}
	}
	return out
}

// forgetColorHandler serves DELETE /api/colors/{username}.
func forgetColorHandler(colors ColorMemory, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username := chi.URLParam(r, "username")
		if err := colors.Forget(r.Context(), username); err != nil {
			if log != nil {
				log.Warn("forgetting color failed", logger.Field{Key: "username", Value: username}, logger.Err(err))
			}
			http.Error(w, "color memory unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
