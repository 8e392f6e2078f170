// Package status exposes the sync engine's local observability surface:
// health, a JSON state summary, and prometheus metrics.
package status

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/honeyecosystem/sync/internal/chat"
	"github.com/honeyecosystem/sync/internal/live"
	"github.com/honeyecosystem/sync/internal/logging"
	"github.com/honeyecosystem/sync/internal/metrics"
	"github.com/honeyecosystem/sync/internal/tokenstore"
)

// Dependencies aggregates the collaborators rendered on the status surface.
type Dependencies struct {
	Tokens  *tokenstore.Store
	Chats   *chat.Service
	Live    *live.Controller
	Metrics *metrics.Metrics
}

// RegisterRoutes wires the status handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/statusz", StateHandler{Deps: deps}.Handle)
	if deps.Metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Reg, promhttp.HandlerOpts{}))
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// StateHandler renders a summary of the local sync state.
type StateHandler struct {
	Deps Dependencies
}

type stateResponse struct {
	LoggedIn      bool   `json:"logged_in"`
	Username      string `json:"username,omitempty"`
	Chats         int    `json:"chats"`
	ChatSeq       uint64 `json:"chat_seq"`
	LiveSessions  int    `json:"live_sessions"`
	ActiveSession string `json:"active_session,omitempty"`
	MyStatus      string `json:"my_status,omitempty"`
}

// Handle implements GET /statusz.
func (h StateHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var resp stateResponse
	if h.Deps.Tokens != nil {
		_, resp.LoggedIn = h.Deps.Tokens.Tokens()
		if profile, ok := h.Deps.Tokens.Profile(); ok {
			resp.Username = profile.Username
		}
	}
	if h.Deps.Chats != nil {
		resp.Chats = h.Deps.Chats.ChatsCache().Len()
		resp.ChatSeq = h.Deps.Chats.ChatsCache().Seq()
	}
	if h.Deps.Live != nil {
		resp.LiveSessions = len(h.Deps.Live.Sessions())
		if state, ok := h.Deps.Live.Active(); ok {
			resp.ActiveSession = state.Session.ID
			resp.MyStatus = state.MyStatus
		}
	}

	respondJSON(w, r, http.StatusOK, resp)
}

func respondJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(r.Context()).Error("encode response body", "status", status, "error", err)
	}
}
