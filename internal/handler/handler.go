package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/orbisretail/loyalty/internal/auth"
	"github.com/orbisretail/loyalty/internal/config"
	"github.com/orbisretail/loyalty/internal/dashboard"
	"github.com/orbisretail/loyalty/internal/logger"
	"github.com/orbisretail/loyalty/internal/model"
	"github.com/orbisretail/loyalty/internal/service"
	"github.com/orbisretail/loyalty/internal/store"
)

// Serve запускает HTTP-сервер и останавливает его по отмене ctx
func Serve(ctx context.Context, cfg config.HandlerConfig, auth auth.Auth, service service.Service, dashboard *dashboard.Dashboard, zaplog *zap.Logger) error {
	h := newHandler(auth, service, dashboard, zaplog)
	router := h.newRouter()

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type handler struct {
	auth      auth.Auth
	service   service.Service
	dashboard *dashboard.Dashboard
	zaplog    *zap.Logger
}

func newHandler(auth auth.Auth, service service.Service, dashboard *dashboard.Dashboard, zaplog *zap.Logger) *handler {
	return &handler{
		auth:      auth,
		service:   service,
		dashboard: dashboard,
		zaplog:    zaplog,
	}
}

func (h *handler) newRouter() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/login", logger.RequestLogMdlw(h.auth.Login, h.zaplog))
	mux.HandleFunc("POST /api/customers", logger.RequestLogMdlw(h.PostCustomer, h.zaplog))
	mux.HandleFunc("GET /api/customers", logger.RequestLogMdlw(h.GetCustomers, h.zaplog))
	// литеральные маршруты важнее шаблона {id}
	mux.HandleFunc("GET /api/customers/loyalty", logger.RequestLogMdlw(h.GetLoyalty, h.zaplog))
	mux.HandleFunc("GET /api/customers/analytics", logger.RequestLogMdlw(h.GetAnalytics, h.zaplog))
	mux.HandleFunc("GET /api/customers/{id}", logger.RequestLogMdlw(h.GetCustomer, h.zaplog))
	mux.HandleFunc("PUT /api/customers/{id}", logger.RequestLogMdlw(h.PutCustomer, h.zaplog))
	mux.HandleFunc("DELETE /api/customers/{id}", logger.RequestLogMdlw(h.DeleteCustomer, h.zaplog))
	mux.HandleFunc("POST /api/customers/{id}/points", logger.RequestLogMdlw(h.auth.Middleware(h.PostPoints), h.zaplog))
	mux.HandleFunc("GET /api/dashboard/summary", logger.RequestLogMdlw(h.GetDashboardSummary, h.zaplog))
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// Единый конверт ответа
type apiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Count   *int   `json:"count,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, resp apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), apiResponse{Message: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInsufficientData),
		errors.Is(err, service.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrAlreadyExists),
		errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrUnprocessableEntity):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

type PostCustomerJSONRequest struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	CardNumber string `json:"card_number"`
}

func (h *handler) PostCustomer(w http.ResponseWriter, r *http.Request) {
	var req PostCustomerJSONRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: err.Error()})
		return
	}

	customer, err := h.service.Register(r.Context(), service.Registration{
		Name:       req.Name,
		Email:      req.Email,
		CardNumber: req.CardNumber,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, apiResponse{Success: true, Data: customer})
}

func (h *handler) GetCustomers(w http.ResponseWriter, r *http.Request) {
	filter := store.CustomerFilter{Tier: r.URL.Query().Get("tier")}
	switch r.URL.Query().Get("is_active") {
	case "true":
		active := true
		filter.Active = &active
	case "false":
		active := false
		filter.Active = &active
	}

	customers, err := h.service.ListCustomers(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	count := len(customers)
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Count: &count, Data: customers})
}

type GetCustomerJSONResponse struct {
	Customer model.Customer        `json:"customer"`
	Events   []model.CustomerEvent `json:"events"`
}

func (h *handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	customer, events, err := h.service.GetCustomer(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: GetCustomerJSONResponse{
		Customer: customer,
		Events:   events,
	}})
}

type PutCustomerJSONRequest struct {
	Name       *string `json:"name"`
	Email      *string `json:"email"`
	CardNumber *string `json:"card_number"`
}

func (h *handler) PutCustomer(w http.ResponseWriter, r *http.Request) {
	var req PutCustomerJSONRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: err.Error()})
		return
	}

	customer, err := h.service.UpdateCustomer(r.Context(), r.PathValue("id"), store.CustomerUpdate{
		Name:       req.Name,
		Email:      req.Email,
		CardNumber: req.CardNumber,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: customer})
}

func (h *handler) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	customer, err := h.service.DeactivateCustomer(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: "customer deactivated",
		Data:    customer,
	})
}

type PostPointsJSONRequest struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

type PostPointsJSONResponse struct {
	Customer    model.Customer `json:"customer"`
	PointsAdded int            `json:"points_added"`
	OldTier     string         `json:"old_tier"`
	NewTier     string         `json:"new_tier"`
	TierChanged bool           `json:"tier_changed"`
}

// PostPoints - административная корректировка баллов, под токеном
func (h *handler) PostPoints(w http.ResponseWriter, r *http.Request) {
	var req PostPointsJSONRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: err.Error()})
		return
	}

	result, err := h.service.AdjustPoints(r.Context(), r.PathValue("id"), req.Delta, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: PostPointsJSONResponse{
		Customer:    result.Customer,
		PointsAdded: result.PointsAdded,
		OldTier:     result.OldTier,
		NewTier:     result.NewTier,
		TierChanged: result.TierChanged,
	}})
}

func (h *handler) GetLoyalty(w http.ResponseWriter, r *http.Request) {
	tiers, err := h.service.Tiers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	count := len(tiers)
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Count: &count, Data: tiers})
}

func (h *handler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	analytics, err := h.service.Analytics(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: analytics})
}

func (h *handler) GetDashboardSummary(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: h.dashboard.Summary()})
}
