package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"access-verifier/internal/service"
	"access-verifier/internal/util"
)

// ReviewHandler exposes the review dashboard endpoints.
type ReviewHandler struct {
	reviewService *service.ReviewService
	logger        *zap.Logger
}

func NewReviewHandler(reviewService *service.ReviewService, logger *zap.Logger) *ReviewHandler {
	return &ReviewHandler{
		reviewService: reviewService,
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

// Meta represents pagination metadata
type Meta struct {
	Page    int `json:"page,omitempty"`
	PerPage int `json:"per_page,omitempty"`
	Total   int `json:"total,omitempty"`
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

// RegisterRoutes registers review and access-log routes
func (h *ReviewHandler) RegisterRoutes(router chi.Router) {
	router.Route("/reviews", func(r chi.Router) {
		r.Get("/pending", h.GetPendingReviews)
		r.Get("/{attemptID}", h.GetReviewDetail)
		r.Post("/{attemptID}", h.ResolveReview)
	})
	router.Route("/logs", func(r chi.Router) {
		r.Get("/", h.GetHistory)
		r.Get("/today", h.GetTodaysResolved)
	})
}

// GetPendingReviews lists attempts awaiting a human verdict, newest
// first.
func (h *ReviewHandler) GetPendingReviews(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	reviews, err := h.reviewService.PendingReviews(ctx)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err, "Failed to get pending reviews")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(reviews, "Pending reviews retrieved successfully"))
	h.logger.Debug("Pending reviews retrieved via HTTP",
		util.Int("count", len(reviews)),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "GetPendingReviews"),
	)
}

func (h *ReviewHandler) GetReviewDetail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	attemptID := chi.URLParam(r, "attemptID")
	detail, err := h.reviewService.GetDetail(ctx, attemptID)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to get review detail")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(detail, "Review detail retrieved successfully"))
}

// ResolveReview applies a human verdict to a pending attempt.
func (h *ReviewHandler) ResolveReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	attemptID := chi.URLParam(r, "attemptID")

	var req struct {
		Approved   bool   `json:"approved"`
		EmployeeID string `json:"employee_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	detail, err := h.reviewService.Resolve(ctx, attemptID, req.Approved, req.EmployeeID)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to resolve review")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(detail, "Review resolved successfully"))
	h.logger.Info("Review resolved via HTTP",
		util.String("attempt_id", attemptID),
		util.Bool("approved", req.Approved),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "ResolveReview"),
	)
}

func (h *ReviewHandler) GetTodaysResolved(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	logs, err := h.reviewService.TodaysResolved(ctx)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err, "Failed to get today's access logs")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(logs, "Today's access logs retrieved successfully"))
}

// GetHistory returns resolved attempts with page/per_page pagination.
func (h *ReviewHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.respondWithError(w, http.StatusBadRequest, errors.New("invalid page"), "Page must be a positive integer")
			return
		}
		page = parsed
	}

	perPage := 10
	if raw := r.URL.Query().Get("per_page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			h.respondWithError(w, http.StatusBadRequest, errors.New("invalid per_page"), "per_page must be between 1 and 100")
			return
		}
		perPage = parsed
	}

	logs, total, err := h.reviewService.History(ctx, page, perPage)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err, "Failed to get access log history")
		return
	}

	response := successResponse(logs, "Access log history retrieved successfully")
	response.Meta = &Meta{
		Page:    page,
		PerPage: perPage,
		Total:   total,
	}
	h.respondWithJSON(w, http.StatusOK, response)
}

// Helper Methods

func (h *ReviewHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

func (h *ReviewHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}

func (h *ReviewHandler) getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrReviewNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNotPending):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
