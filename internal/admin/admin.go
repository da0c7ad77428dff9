package admin

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/purpose-labs/coach-gateway/internal/db"
	"github.com/purpose-labs/coach-gateway/internal/flags"
	"github.com/purpose-labs/coach-gateway/internal/spend"
)

// AdminHandler exposes the ops surface: kill-switch control and
// usage/spend visibility.
type AdminHandler struct {
	db       *db.DB
	kill     *flags.KillSwitch
	governor *spend.Governor
	token    string
	logger   *zap.Logger
}

func NewAdminHandler(database *db.DB, kill *flags.KillSwitch, governor *spend.Governor, token string, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		db:       database,
		kill:     kill,
		governor: governor,
		token:    token,
		logger:   logger,
	}
}

func (h *AdminHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/admin/killswitch", h.requireToken(h.GetKillSwitch)).Methods("GET")
	router.HandleFunc("/admin/killswitch", h.requireToken(h.SetKillSwitch)).Methods("PUT")
	router.HandleFunc("/admin/spend", h.requireToken(h.GetSpend)).Methods("GET")
	router.HandleFunc("/admin/usage", h.requireToken(h.GetUsage)).Methods("GET")
}

func (h *AdminHandler) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.token == "" {
			http.Error(w, "Admin API disabled", http.StatusForbidden)
			return
		}
		got := r.Header.Get("X-Admin-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

func (h *AdminHandler) GetKillSwitch(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{
		"engaged": h.kill.Engaged(r.Context()),
	})
}

func (h *AdminHandler) SetKillSwitch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Engaged bool `json:"engaged"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if err := h.kill.Set(r.Context(), req.Engaged); err != nil {
		h.logger.Error("kill switch update failed", zap.Error(err))
		http.Error(w, "Failed to update kill switch", http.StatusInternalServerError)
		return
	}

	h.logger.Info("kill switch updated", zap.Bool("engaged", req.Engaged))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"engaged": req.Engaged})
}

func (h *AdminHandler) GetSpend(w http.ResponseWriter, r *http.Request) {
	res := h.governor.Check(r.Context())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"allowed":     res.Allowed,
		"spent_month": res.SpentMonth,
		"spent_day":   res.SpentDay,
	})
}

func (h *AdminHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from") // e.g., "2024-01-01"
	to := r.URL.Query().Get("to")

	stats, err := h.db.GetUsageStats(r.Context(), from, to)
	if err != nil {
		http.Error(w, "Failed to get usage stats", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
