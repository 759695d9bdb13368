package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kisman271128/salesman-dashboard/internal/model"
	"github.com/kisman271128/salesman-dashboard/internal/service"
	"github.com/kisman271128/salesman-dashboard/internal/util"
)

// DeviceHandler handles HTTP requests for device validation and slot
// management
type DeviceHandler struct {
	deviceService *service.DeviceService
	searchService *service.DeviceSearchService
	logger        *zap.Logger
}

func NewDeviceHandler(deviceService *service.DeviceService, searchService *service.DeviceSearchService, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{
		deviceService: deviceService,
		searchService: searchService,
		logger:        logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// Meta represents list metadata
type Meta struct {
	Total    int `json:"total,omitempty"`
	PageSize int `json:"page_size,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

// ValidateRequest is the body of POST /devices/validate.
type ValidateRequest struct {
	UserID          string                      `json:"user_id"`
	Role            string                      `json:"role,omitempty"`
	Characteristics model.CharacteristicsVector `json:"characteristics"`
}

// RegisterRoutes registers all device routes
func (h *DeviceHandler) RegisterRoutes(router chi.Router) {
	router.Route("/devices", func(r chi.Router) {
		r.Post("/validate", h.ValidateDevice)
		r.Get("/{userID}", h.GetRegisteredDevices)
		r.Get("/{userID}/count", h.GetDeviceCount)
		r.Delete("/{userID}", h.ResetAllDevices)
		r.Delete("/{userID}/{fingerprint}", h.RemoveDevice)
	})

	router.Route("/admin/devices", func(r chi.Router) {
		// Add admin auth middleware here in production
		r.Get("/search", h.SearchDevices)
		r.Get("/{userID}/consistency", h.CheckConsistency)
	})
}

// ValidateDevice runs the registration decision for the presenting client.
// The decision itself always answers 200; the outcome is in the body.
func (h *DeviceHandler) ValidateDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if util.ContainsSuspicious(req.UserID) {
		h.respondWithError(w, http.StatusBadRequest,
			errors.New("invalid user id"), "Invalid user ID")
		return
	}
	req.UserID = util.SanitizeInput(req.UserID)

	result := h.deviceService.ValidateDevice(ctx, req.UserID, req.Role, req.Characteristics)

	h.respondWithJSON(w, http.StatusOK, Response{
		Success: result.Success,
		Data:    result,
		Message: result.Message,
	})
	h.logger.Info("Device validated via HTTP",
		util.String("user_id", req.UserID),
		util.String("kind", string(result.Kind)),
		util.Bool("success", result.Success),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "ValidateDevice"),
	)
}

// GetRegisteredDevices lists a user's registered devices
func (h *DeviceHandler) GetRegisteredDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := util.SanitizeInput(chi.URLParam(r, "userID"))
	devices, err := h.deviceService.GetRegisteredDevices(ctx, userID)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to get devices")
		return
	}

	h.respondWithJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    devices,
		Meta:    &Meta{Total: len(devices)},
	})
}

// GetDeviceCount reports slot occupancy for a user
func (h *DeviceHandler) GetDeviceCount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := util.SanitizeInput(chi.URLParam(r, "userID"))
	count, err := h.deviceService.GetDeviceCount(ctx, userID)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to get device count")
		return
	}

	data := map[string]interface{}{
		"count":         count,
		"max_devices":   h.deviceService.MaxDevices(),
		"limit_reached": count >= h.deviceService.MaxDevices(),
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(data, ""))
}

// ResetAllDevices clears every slot for a user
func (h *DeviceHandler) ResetAllDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	userID := util.SanitizeInput(chi.URLParam(r, "userID"))
	result, err := h.deviceService.ResetAllDevices(ctx, userID)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to reset devices")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(result, result.Message))
	h.logger.Info("Devices reset via HTTP",
		util.String("user_id", userID),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "ResetAllDevices"),
	)
}

// RemoveDevice frees one slot by fingerprint
func (h *DeviceHandler) RemoveDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	userID := util.SanitizeInput(chi.URLParam(r, "userID"))
	fp := util.SanitizeInput(chi.URLParam(r, "fingerprint"))

	result, err := h.deviceService.RemoveDevice(ctx, userID, fp)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to remove device")
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusNotFound
	}
	h.respondWithJSON(w, status, Response{
		Success: result.Success,
		Data:    result,
		Message: result.Message,
	})
	h.logger.Info("Device removed via HTTP",
		util.String("user_id", userID),
		util.String("fingerprint", fp),
		util.Bool("success", result.Success),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "RemoveDevice"),
	)
}

// SearchDevices serves the admin panel's free-text device lookup
func (h *DeviceHandler) SearchDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.searchService == nil {
		h.respondWithError(w, http.StatusServiceUnavailable,
			errors.New("search not configured"), "Device search is disabled")
		return
	}

	q := r.URL.Query().Get("q")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	devices, total, err := h.searchService.Search(ctx, q, limit)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Device search failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    devices,
		Meta:    &Meta{Total: total, PageSize: len(devices)},
	})
}

// CheckConsistency reports both store tiers' views for one user
func (h *DeviceHandler) CheckConsistency(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := util.SanitizeInput(chi.URLParam(r, "userID"))
	report, err := h.deviceService.CheckConsistency(ctx, userID)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Consistency check failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(report, ""))
}

func (h *DeviceHandler) getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrUserNotFound), errors.Is(err, model.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, model.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *DeviceHandler) respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (h *DeviceHandler) respondWithError(w http.ResponseWriter, status int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.Int("status", status),
		util.String("message", message),
		zap.Error(err),
	)
	h.respondWithJSON(w, status, errorResponse(err, message))
}
