package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"access-verifier/internal/model"
	"access-verifier/internal/service"
	"access-verifier/internal/util"
)

// EmployeeHandler handles enrollment and directory endpoints.
type EmployeeHandler struct {
	employeeService *service.EmployeeService
	logger          *zap.Logger
}

func NewEmployeeHandler(employeeService *service.EmployeeService, logger *zap.Logger) *EmployeeHandler {
	return &EmployeeHandler{
		employeeService: employeeService,
		logger:          logger,
	}
}

// RegisterRoutes registers employee routes
func (h *EmployeeHandler) RegisterRoutes(router chi.Router) {
	router.Route("/employees", func(r chi.Router) {
		r.Post("/", h.CreateEmployee)
		r.Get("/", h.ListEmployees)
		r.Get("/{employeeID}", h.GetEmployee)
	})
}

// CreateEmployee enrolls an employee; a photo in the request becomes
// the reference embedding.
func (h *EmployeeHandler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req service.EmployeeCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	emp, err := h.employeeService.Create(ctx, &req)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to create employee")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(h.sanitize(emp), "Employee created successfully"))
	h.logger.Info("Employee created via HTTP",
		util.String("employee_id", emp.ID),
		util.Bool("has_embedding", emp.HasReferenceEmbedding()),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "CreateEmployee"),
	)
}

func (h *EmployeeHandler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	employeeID := chi.URLParam(r, "employeeID")
	emp, err := h.employeeService.Get(ctx, employeeID)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to get employee")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(h.sanitize(emp), "Employee retrieved successfully"))
}

func (h *EmployeeHandler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	employees, err := h.employeeService.List(ctx)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err, "Failed to list employees")
		return
	}

	views := make([]*employeeView, 0, len(employees))
	for _, emp := range employees {
		views = append(views, h.sanitize(emp))
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(views, "Employees retrieved successfully"))
}

// employeeView omits the raw embedding vector from responses.
type employeeView struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	RFIDTag     string    `json:"rfid_tag"`
	Role        string    `json:"role,omitempty"`
	Email       string    `json:"email,omitempty"`
	Active      bool      `json:"active"`
	HasFaceData bool      `json:"has_face_data"`
	CreatedAt   time.Time `json:"created_at"`
}

func (h *EmployeeHandler) sanitize(emp *model.EmployeeRecord) *employeeView {
	return &employeeView{
		ID:          emp.ID,
		Name:        emp.Name,
		RFIDTag:     emp.RFIDTag,
		Role:        emp.Role,
		Email:       emp.Email,
		Active:      emp.Active,
		HasFaceData: emp.HasReferenceEmbedding(),
		CreatedAt:   emp.CreatedAt,
	}
}

func (h *EmployeeHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

func (h *EmployeeHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}

func (h *EmployeeHandler) getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrEmployeeNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrNoFaceInPhoto):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrTagTaken):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
