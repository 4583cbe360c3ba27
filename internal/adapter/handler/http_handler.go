package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/rl1809/game-shelf/internal/core/domain"
	"github.com/rl1809/game-shelf/internal/core/service"
)

const (
	requestIDHeader  = "X-Request-ID"
	readinessTimeout = 2 * time.Second
)

type HTTPHandler struct {
	actions    *Actions
	inventory  *service.Inventory
	reconciler *service.Reconciler
	conflicts  *ConflictBroker
	stream     *EventStream
	metrics    http.Handler
	checks     map[string]func(context.Context) error
}

type HTTPOption func(*HTTPHandler)

// WithMetrics mounts h under /metrics.
func WithMetrics(h http.Handler) HTTPOption {
	return func(hh *HTTPHandler) {
		hh.metrics = h
	}
}

// WithReadinessCheck adds a dependency checked by /ready.
func WithReadinessCheck(name string, check func(context.Context) error) HTTPOption {
	return func(hh *HTTPHandler) {
		if hh.checks == nil {
			hh.checks = make(map[string]func(context.Context) error)
		}
		hh.checks[name] = check
	}
}

func NewHTTPHandler(actions *Actions, inventory *service.Inventory, reconciler *service.Reconciler, conflicts *ConflictBroker, stream *EventStream, opts ...HTTPOption) *HTTPHandler {
	h := &HTTPHandler{
		actions:    actions,
		inventory:  inventory,
		reconciler: reconciler,
		conflicts:  conflicts,
		stream:     stream,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type gamesResponse struct {
	Games []*GameView `json:"games"`
}

type refreshRequest struct {
	Keys      []string `json:"keys"`
	Immediate bool     `json:"immediate"`
}

type resolveRequest struct {
	Resolution string `json:"resolution"`
}

type pricePointView struct {
	Price *float64 `json:"price"`
	Date  string   `json:"date"`
}

type priceHistoryResponse struct {
	Key        string           `json:"key"`
	History    []pricePointView `json:"history"`
	LastUpdate *string          `json:"last_update"`
}

type conflictView struct {
	Key    string    `json:"key"`
	Local  *GameView `json:"local"`
	Remote *GameView `json:"remote"`
	Fields []string  `json:"fields"`
}

func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadinessCheck)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics)
	}
	if h.stream != nil {
		r.Get("/ws", h.stream.HandleWebSocket)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/actions", h.Act)
		r.Post("/wishlist", h.actionRoute(ActionAddToWishlist))
		r.Post("/collection", h.actionRoute(ActionAddToCollection))
		r.Post("/refresh", h.Refresh)

		r.Get("/games", h.ListGames)
		r.Route("/games/{key}", func(r chi.Router) {
			r.Get("/", h.GetGame)
			r.Delete("/", h.RemoveGame)
			r.Put("/details", h.actionRoute(ActionUpdateDetails))
			r.Put("/condition", h.actionRoute(ActionUpdateCondition))
			r.Post("/sale", h.actionRoute(ActionMarkForSale))
			r.Delete("/sale", h.actionRoute(ActionUnmarkForSale))
			r.Post("/lend", h.actionRoute(ActionMarkAsLent))
			r.Delete("/lend", h.actionRoute(ActionUnmarkAsLent))
			r.Post("/purchase", h.actionRoute(ActionPurchaseFromWishlist))
			r.Post("/price", h.actionRoute(ActionUpdatePrice))
			r.Get("/price_history", h.PriceHistory)
			r.Post("/cancel", h.Cancel)
			r.Post("/refresh", h.RefreshGame)
		})

		r.Get("/conflicts", h.ListConflicts)
		r.Post("/conflicts/{key}/resolve", h.ResolveConflict)
	})
	return r
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	status := http.StatusOK
	result := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			result[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		result[name] = "ok"
	}
	writeJSON(w, status, result)
}

func (h *HTTPHandler) ListGames(w http.ResponseWriter, r *http.Request) {
	store := h.inventory.Engine().Store()
	list := domain.List(r.URL.Query().Get("list"))

	games := store.GetAll()
	resp := gamesResponse{Games: make([]*GameView, 0, len(games))}
	for _, g := range games {
		if list != "" && g.List() != list {
			continue
		}
		op, _ := store.GetOperation(g.Key)
		resp.Games = append(resp.Games, newGameView(g, op))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) GetGame(w http.ResponseWriter, r *http.Request) {
	store := h.inventory.Engine().Store()
	key := h.inventory.Engine().Resolve(urlKey(r))

	g, ok := store.Get(key)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Message: "game not found"})
		return
	}
	op, _ := store.GetOperation(key)
	writeJSON(w, http.StatusOK, newGameView(*g, op))
}

// Act accepts any ActionRequest in the body.
func (h *HTTPHandler) Act(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid request body"})
		return
	}
	h.run(w, r, req)
}

func (h *HTTPHandler) actionRoute(action Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ActionRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid request body"})
				return
			}
		}
		req.Action = action
		if key := chi.URLParam(r, "key"); key != "" {
			req.Key = key
		}
		h.run(w, r, req)
	}
}

// RemoveGame picks the remove action from the list query parameter, falling
// back to the list the game is currently on.
func (h *HTTPHandler) RemoveGame(w http.ResponseWriter, r *http.Request) {
	key := urlKey(r)
	list := domain.List(r.URL.Query().Get("list"))
	if list == "" {
		if g, ok := h.inventory.Engine().Store().Get(h.inventory.Engine().Resolve(key)); ok {
			list = g.List()
		}
	}

	req := ActionRequest{Key: key.String(), Wait: r.URL.Query().Get("wait") == "true"}
	switch list {
	case domain.ListWishlist:
		req.Action = ActionRemoveFromWishlist
	case domain.ListCollection:
		req.Action = ActionRemoveFromCollection
	default:
		writeJSON(w, http.StatusNotFound, errorResponse{Message: "game not found"})
		return
	}
	h.run(w, r, req)
}

func (h *HTTPHandler) run(w http.ResponseWriter, r *http.Request, req ActionRequest) {
	if req.RequestID == "" {
		req.RequestID = r.Header.Get(requestIDHeader)
	}
	if _, err := uuid.Parse(req.RequestID); req.RequestID != "" && err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "request_id must be a UUID"})
		return
	}

	resp, err := h.actions.Run(r.Context(), req)
	if err != nil {
		status, message := statusFor(err)
		writeJSON(w, status, errorResponse{Message: message})
		return
	}

	status := http.StatusOK
	if resp.Pending {
		status = http.StatusAccepted
	}
	writeJSON(w, status, resp)
}

func (h *HTTPHandler) PriceHistory(w http.ResponseWriter, r *http.Request) {
	points, last, err := h.inventory.PriceHistory(r.Context(), urlKey(r))
	if err != nil {
		status, message := statusFor(err)
		writeJSON(w, status, errorResponse{Message: message})
		return
	}

	resp := priceHistoryResponse{Key: urlKey(r).String(), History: make([]pricePointView, 0, len(points))}
	for _, p := range points {
		resp.History = append(resp.History, pricePointView{Price: p.Price, Date: p.Date})
	}
	if last != "" {
		resp.LastUpdate = &last
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	n := h.inventory.Engine().CancelPendingOperations(urlKey(r))
	writeJSON(w, http.StatusOK, map[string]int{"canceled": n})
}

func (h *HTTPHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid request body"})
		return
	}

	keys := make([]domain.Key, 0, len(req.Keys))
	for _, k := range req.Keys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, domain.Key(k))
		}
	}
	if len(keys) == 0 {
		keys = h.inventory.Engine().Store().Keys()
	}

	if req.Immediate {
		h.reconciler.RefreshMany(r.Context(), keys, service.RefreshOptions{Immediate: true})
		writeJSON(w, http.StatusOK, map[string]int{"refreshed": len(keys)})
		return
	}
	h.reconciler.RefreshMany(context.WithoutCancel(r.Context()), keys, service.RefreshOptions{})
	writeJSON(w, http.StatusAccepted, map[string]int{"scheduled": len(keys)})
}

func (h *HTTPHandler) RefreshGame(w http.ResponseWriter, r *http.Request) {
	if err := h.reconciler.RefreshOne(r.Context(), urlKey(r)); err != nil {
		status, message := statusFor(err)
		writeJSON(w, status, errorResponse{Message: message})
		return
	}
	h.GetGame(w, r)
}

func (h *HTTPHandler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	open := h.conflicts.Open()
	out := make([]conflictView, 0, len(open))
	for _, c := range open {
		out = append(out, conflictView{
			Key:    c.Key.String(),
			Local:  newGameView(c.Local, nil),
			Remote: newGameView(c.Remote, nil),
			Fields: c.Changes.Fields(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"conflicts": out})
}

func (h *HTTPHandler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid request body"})
		return
	}

	err := h.conflicts.Resolve(urlKey(r), domain.Resolution(req.Resolution))
	if errors.Is(err, ErrNoOpenConflict) {
		writeJSON(w, http.StatusNotFound, errorResponse{Message: "no open conflict"})
		return
	}
	if err != nil {
		status, message := statusFor(err)
		writeJSON(w, status, errorResponse{Message: message})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func urlKey(r *http.Request) domain.Key {
	return domain.Key(chi.URLParam(r, "key"))
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
