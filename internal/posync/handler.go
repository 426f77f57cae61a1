package posync

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/posync/internal/platform/httpx"
	"github.com/odyssey-erp/posync/internal/shared"
)

// ExportEnqueuer schedules a background export.
type ExportEnqueuer interface {
	EnqueueExport(ctx context.Context, poName string) (string, error)
}

// Handler exposes the lifecycle operations over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	enqueuer ExportEnqueuer
	validate *validator.Validate
}

// NewHandler builds a Handler. A nil enqueuer makes ?async=1 exports fail with 503.
func NewHandler(logger *slog.Logger, service *Service, enqueuer ExportEnqueuer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, enqueuer: enqueuer, validate: validator.New()}
}

// MountRoutes registers the sync routes. Hooks and exports expect an identified caller.
func (h *Handler) MountRoutes(r chi.Router, requireUser func(http.Handler) http.Handler) {
	r.Get("/item-code", h.lookupItemCode)
	r.Group(func(r chi.Router) {
		if requireUser != nil {
			r.Use(requireUser)
		}
		r.Post("/purchase-orders/{name}/export", h.exportOrder)
		r.Post("/hooks/purchase-order/validate", h.validateHook)
		r.Post("/hooks/purchase-order/submit", h.submitHook)
		r.Post("/hooks/purchase-order/cancel", h.cancelHook)
	})
}

type hookRequest struct {
	POName string `json:"po_name" validate:"required,max=140"`
}

type enqueueResponse struct {
	Status string `json:"status"`
	Order  string `json:"order"`
	TaskID string `json:"task_id"`
}

func (h *Handler) exportOrder(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	if name == "" {
		httpx.RespondError(w, httpx.ErrBadRequest)
		return
	}
	if r.URL.Query().Get("async") == "1" {
		if h.enqueuer == nil {
			httpx.RespondError(w, httpx.ErrUnavailable)
			return
		}
		id, err := h.enqueuer.EnqueueExport(r.Context(), name)
		if err != nil {
			h.logger.Error("enqueue export", slog.String("po", name), slog.Any("error", err))
			httpx.RespondError(w, httpx.ErrUnavailable)
			return
		}
		httpx.JSON(w, http.StatusAccepted, enqueueResponse{Status: "queued", Order: name, TaskID: id})
		return
	}
	res, err := h.service.ExportOrder(r.Context(), name)
	h.writeResult(w, res, err)
}

func (h *Handler) validateHook(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeHook(w, r)
	if !ok {
		return
	}
	res, err := h.service.ValidateOrder(r.Context(), req.POName)
	h.writeResult(w, res, err)
}

func (h *Handler) submitHook(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeHook(w, r)
	if !ok {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	res, err := h.service.HandleSubmit(r.Context(), actor, req.POName)
	h.writeResult(w, res, err)
}

func (h *Handler) cancelHook(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeHook(w, r)
	if !ok {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	res, err := h.service.CancelOrder(r.Context(), actor, req.POName)
	h.writeResult(w, res, err)
}

func (h *Handler) lookupItemCode(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	match, err := h.service.LookupItemCode(r.Context(), strings.TrimSpace(q.Get("po_no")), strings.TrimSpace(q.Get("supplier_part_no")))
	if err != nil {
		status := StatusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("lookup item code", slog.Any("error", err))
			httpx.Problem(w, status, http.StatusText(status), "")
			return
		}
		httpx.Problem(w, status, http.StatusText(status), err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, match)
}

func (h *Handler) decodeHook(w http.ResponseWriter, r *http.Request) (hookRequest, bool) {
	var req hookRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return req, false
	}
	req.POName = strings.TrimSpace(req.POName)
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid request", err.Error())
		return req, false
	}
	return req, true
}

func (h *Handler) writeResult(w http.ResponseWriter, res Result, err error) {
	if err == nil {
		httpx.JSON(w, http.StatusOK, res)
		return
	}
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("sync operation", slog.String("po", res.Order), slog.Any("error", err))
	}
	httpx.JSON(w, status, res)
}

// StatusFor maps sync errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrOrderLocked):
		return http.StatusConflict
	case errors.Is(err, ErrConnectivity), errors.Is(err, ErrEndpointNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrRemoteRejection), errors.Is(err, ErrMalformedResponse):
		return http.StatusBadGateway
	default:
		return httpx.StatusFor(err)
	}
}
