package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"pandagate/internal/config"
	"pandagate/internal/model"
	"pandagate/internal/repository"
	"pandagate/internal/service"
	"pandagate/internal/upstream"
)

type Handler struct {
	svc    service.Provisioner
	origin string
}

func NewHandler(svc service.Provisioner, allowedOrigin string) *Handler {
	return &Handler{svc: svc, origin: allowedOrigin}
}

// Register wires the routes. /provision is registered without a method
// pattern: the preflight contract needs OPTIONS answered with CORS headers
// and 405s wrapped in the JSON error shape, which ServeMux's automatic
// method matching would bypass.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/provision", h.Provision)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /accounts/balance", h.GameBalance)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type provisionResponse struct {
	Success  bool              `json:"success"`
	Username string            `json:"username"`
	Password string            `json:"password"`
	Credits  model.Credits     `json:"credits"`
	Upstream upstreamEnvelopes `json:"upstream"`
}

type upstreamEnvelopes struct {
	SavePlayer json.RawMessage `json:"savePlayer"`
	EnterScore json.RawMessage `json:"enterScore"`
}

func (h *Handler) Provision(w http.ResponseWriter, r *http.Request) {
	h.cors(w)

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		h.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// A malformed or empty body is not an error: it means "no overrides",
	// the same as POSTing {}.
	var req model.ProvisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		req = model.ProvisionRequest{}
	}

	result, err := h.svc.Provision(r.Context(), req)
	if err != nil {
		h.respondError(w, statusFor(err), err.Error())
		return
	}

	h.respondJSON(w, http.StatusOK, provisionResponse{
		Success:  true,
		Username: result.Account,
		Password: result.Password,
		Credits:  result.Credits,
		Upstream: upstreamEnvelopes{
			SavePlayer: result.SavePlayer,
			EnterScore: result.EnterScore,
		},
	})
}

func (h *Handler) GameBalance(w http.ResponseWriter, r *http.Request) {
	h.cors(w)

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		h.respondError(w, http.StatusBadRequest, "missing_params")
		return
	}
	game := r.URL.Query().Get("game")
	if game == "" {
		game = service.GameName
	}

	balance, err := h.svc.GameBalance(r.Context(), userID, game)
	if err != nil {
		h.respondError(w, statusFor(err), err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"balance": balance})
}

// statusFor maps internal failures to HTTP statuses. Anything unrecognized
// is a plain 500.
func statusFor(err error) int {
	var (
		ce *config.ConfigError
		oe *upstream.OpError
	)
	switch {
	case errors.As(err, &oe):
		return http.StatusBadGateway
	case errors.As(err, &ce):
		return http.StatusInternalServerError
	case errors.Is(err, service.ErrPasswordRequired):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNoStore):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) cors(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", h.origin)
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]interface{}{"success": false, "error": message})
}
