package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"district-insights/internal/adjustment"
	"district-insights/internal/dataset"
	"district-insights/internal/models"
	"district-insights/internal/predictor"
	"district-insights/internal/repository"
	"district-insights/internal/services"
	"district-insights/pkg/logging"
	"district-insights/pkg/metrics"
)

// maxLimit caps the page size a client may request
const maxLimit = 1000

// DistrictHandler handles the district explorer and adjustment endpoints
type DistrictHandler struct {
	adjustments *services.AdjustmentService
	explorer    *services.ExplorerService
	stats       *services.StatisticsService
	sessions    *services.SessionStore
	logger      *logging.StructuredLogger
	metrics     *metrics.Collector
}

// NewDistrictHandler creates a new district handler. stats may be nil when
// no database is configured; the stats endpoint then answers 503.
func NewDistrictHandler(
	adjustments *services.AdjustmentService,
	explorer *services.ExplorerService,
	stats *services.StatisticsService,
	sessions *services.SessionStore,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *DistrictHandler {
	return &DistrictHandler{
		adjustments: adjustments,
		explorer:    explorer,
		stats:       stats,
		sessions:    sessions,
		logger:      logger,
		metrics:     metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// ValidationErrorResponse carries the per-field messages of a rejected
// submission. Group lists the failed groups, comma separated.
type ValidationErrorResponse struct {
	ErrorResponse
	Group  string                  `json:"group"`
	Fields []adjustment.FieldError `json:"fields"`
}

// PaginatedResponse represents a paginated API response
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"total_pages"`
}

// TableResponse is one page of a district table
type TableResponse struct {
	PaginatedResponse
	District string          `json:"district"`
	Columns  []models.Column `json:"columns"`
	Search   string          `json:"search,omitempty"`
	Sort     string          `json:"sort,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// AdjustmentRequest is the body of POST /api/adjustments
type AdjustmentRequest struct {
	District []string `json:"district"`
	Grade    []string `json:"grade"`
}

// PredictionResponse holds the three figures, N/A for the absent ones
type PredictionResponse struct {
	District                        string `json:"district,omitempty"`
	DistrictPercentIncrease         string `json:"districtPercentIncrease"`
	SimilarDistrictsPercentIncrease string `json:"similarDistrictsPercentIncrease"`
	StatePercentIncrease            string `json:"statePercentIncrease"`
}

// GetDistricts handles GET /api/districts
func (h *DistrictHandler) GetDistricts(w http.ResponseWriter, r *http.Request, sess *services.Session) {
	ctx := r.Context()

	names, err := h.adjustments.DistrictNames(ctx, sess)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_DISTRICTS_ERROR] Failed to get district names", nil, err)
		h.sendServiceError(w, r, "failed to retrieve district names", err)
		return
	}

	h.sendJSON(w, map[string][]string{"districts": names}, http.StatusOK)
}

// SelectDistrict handles POST /api/districts/{name}/select
func (h *DistrictHandler) SelectDistrict(w http.ResponseWriter, r *http.Request, sess *services.Session) {
	name := mux.Vars(r)["name"]

	sel, err := h.adjustments.SelectDistrict(r.Context(), sess, name)
	if err != nil {
		h.sendServiceError(w, r, "failed to select district", err)
		return
	}

	h.sendJSON(w, sel, http.StatusOK)
}

// GetDistrictData handles GET /api/districts/{name}/data
func (h *DistrictHandler) GetDistrictData(w http.ResponseWriter, r *http.Request, sess *services.Session) {
	name := mux.Vars(r)["name"]

	q, err := parseTableQuery(r)
	if err != nil {
		h.sendError(w, r, err.Error(), http.StatusBadRequest)
		return
	}

	view, err := h.tableView(sess, name, q)
	if err != nil {
		h.sendServiceError(w, r, "failed to retrieve district data", err)
		return
	}

	h.sendJSON(w, newTableResponse(name, view), http.StatusOK)
}

// GetDistrictStatistics handles GET /api/districts/{name}/stats
func (h *DistrictHandler) GetDistrictStatistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stats == nil {
		h.sendError(w, r, "statistics require a configured database", http.StatusServiceUnavailable)
		return
	}

	name := mux.Vars(r)["name"]
	page, limit, err := parsePaging(r, 1, 100)
	if err != nil {
		h.sendError(w, r, err.Error(), http.StatusBadRequest)
		return
	}

	filter := repository.StatisticsFilter{
		District: &name,
		Limit:    limit,
		Offset:   (page - 1) * limit,
	}

	if yearStr := r.URL.Query().Get("year"); yearStr != "" {
		year, err := strconv.Atoi(yearStr)
		if err != nil {
			h.sendError(w, r, "invalid year, expected an integer", http.StatusBadRequest)
			return
		}
		filter.Year = &year
	}

	statistics, total, err := h.stats.GetStatistics(ctx, filter)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_STATISTICS_ERROR] Failed to get statistics", logging.Fields{
			"district": name,
		}, err)
		h.sendServiceError(w, r, "failed to retrieve statistics", err)
		return
	}
	if total == 0 {
		h.sendError(w, r, "no statistics for district "+name, http.StatusNotFound)
		return
	}

	h.sendJSON(w, PaginatedResponse{
		Data:       statistics,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: dataset.PageCount(total, limit),
	}, http.StatusOK)
}

// SubmitAdjustments handles POST /api/adjustments
func (h *DistrictHandler) SubmitAdjustments(w http.ResponseWriter, r *http.Request, sess *services.Session) {
	var req AdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, r, "invalid request body, expected {\"district\": [...], \"grade\": [...]}", http.StatusBadRequest)
		return
	}

	sub, err := h.adjustments.SubmitValues(r.Context(), sess, req.District, req.Grade)
	if err != nil {
		h.sendServiceError(w, r, "failed to submit adjustments", err)
		return
	}

	h.sendJSON(w, sub, http.StatusOK)
}

// RandomAdjustments handles POST /api/adjustments/random
func (h *DistrictHandler) RandomAdjustments(w http.ResponseWriter, r *http.Request, sess *services.Session) {
	a, b, err := h.adjustments.AutoFill(sess)
	if err != nil {
		h.sendServiceError(w, r, "failed to fill adjustments", err)
		return
	}

	h.sendJSON(w, AdjustmentRequest{District: a, Grade: b}, http.StatusOK)
}

// GetPrediction handles GET /api/prediction
func (h *DistrictHandler) GetPrediction(w http.ResponseWriter, r *http.Request, sess *services.Session) {
	prediction, err := h.adjustments.Prediction(r.Context(), sess)
	if err != nil {
		h.sendServiceError(w, r, "failed to retrieve prediction", err)
		return
	}

	h.sendJSON(w, newPredictionResponse(sess.Selected(), prediction), http.StatusOK)
}

// GetSession handles GET /api/session
func (h *DistrictHandler) GetSession(w http.ResponseWriter, r *http.Request, sess *services.Session) {
	h.sendJSON(w, sess.State(), http.StatusOK)
}

// HealthCheck handles GET /health
func (h *DistrictHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"sessions":  h.sessions.Len(),
	}

	h.logger.Debug(ctx, "[HEALTH_CHECK] Health check requested", logging.Fields{})
	h.sendJSON(w, status, http.StatusOK)
}

// tableView answers q from the session's retained table. Only the selected
// district has one; any other name is ErrNoSelection.
func (h *DistrictHandler) tableView(sess *services.Session, name string, q services.TableQuery) (dataset.View, error) {
	var view dataset.View
	found, err := sess.WithTable(name, func(table *dataset.Table) error {
		var err error
		view, err = h.explorer.Apply(table, q)
		return err
	})
	if !found {
		return dataset.View{}, fmt.Errorf("district %s: %w", strconv.Quote(name), services.ErrNoSelection)
	}
	return view, err
}

func newTableResponse(district string, view dataset.View) TableResponse {
	return TableResponse{
		PaginatedResponse: PaginatedResponse{
			Data:       view.Rows,
			Total:      view.Total,
			Page:       view.Page + 1,
			Limit:      view.PageSize,
			TotalPages: view.PageCount,
		},
		District: district,
		Columns:  view.Columns,
		Search:   view.Search,
		Sort:     view.Sort,
		Message:  view.Message,
	}
}

func newPredictionResponse(district string, p *models.Prediction) PredictionResponse {
	d := p.Display()
	return PredictionResponse{
		District:                        district,
		DistrictPercentIncrease:         d.DistrictPercentIncrease,
		SimilarDistrictsPercentIncrease: d.SimilarDistrictsPercentIncrease,
		StatePercentIncrease:            d.StatePercentIncrease,
	}
}

// parseTableQuery reads search, sort, page, limit and columns. page is
// 1-based on the wire.
func parseTableQuery(r *http.Request) (services.TableQuery, error) {
	query := r.URL.Query()

	page, limit, err := parsePaging(r, 1, 0)
	if err != nil {
		return services.TableQuery{}, err
	}

	sort, err := dataset.ParseSortSpec(query.Get("sort"))
	if err != nil {
		return services.TableQuery{}, err
	}

	var columns []string
	if raw := query.Get("columns"); raw != "" {
		for _, c := range strings.Split(raw, ",") {
			c = strings.ToLower(strings.TrimSpace(c))
			if c == "" {
				continue
			}
			if !isDisplayColumn(c) {
				return services.TableQuery{}, errors.New("unknown column " + strconv.Quote(c))
			}
			columns = append(columns, c)
		}
	}

	return services.TableQuery{
		Search:  query.Get("search"),
		Sort:    sort,
		Page:    page - 1,
		Limit:   limit,
		Columns: columns,
	}, nil
}

// parsePaging reads page and limit, falling back to the given defaults
func parsePaging(r *http.Request, defaultPage, defaultLimit int) (int, int, error) {
	page, limit := defaultPage, defaultLimit

	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil || p < 1 {
			return 0, 0, errors.New("invalid page, expected a positive integer")
		}
		page = p
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l < 1 || l > maxLimit {
			return 0, 0, errors.New("invalid limit, expected an integer between 1 and 1000")
		}
		limit = l
	}

	return page, limit, nil
}

func isDisplayColumn(key string) bool {
	for _, c := range models.DisplayColumns {
		if c.Key == key {
			return true
		}
	}
	return false
}

// statusFor maps a service error to its HTTP status and metrics label
func statusFor(err error) (int, string) {
	var failure *adjustment.ValidationFailure
	var netErr *predictor.NetworkError

	switch {
	case errors.As(err, &failure):
		return http.StatusUnprocessableEntity, "validation_error"
	case errors.As(err, &netErr):
		return http.StatusBadGateway, "backend_error"
	case errors.Is(err, services.ErrBusy), errors.Is(err, services.ErrNoSelection):
		return http.StatusConflict, "conflict"
	case repository.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, dataset.ErrPageOutOfRange):
		return http.StatusBadRequest, "bad_request"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// sendJSON sends a JSON response
func (h *DistrictHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response
func (h *DistrictHandler) sendError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	h.sendJSON(w, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}, statusCode)
}

// sendServiceError classifies err and sends the matching response
func (h *DistrictHandler) sendServiceError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status, errorType := statusFor(err)
	h.metrics.RecordAPIError(errorType, routeName(r))

	if failures := adjustment.Failures(err); len(failures) > 0 {
		resp := ValidationErrorResponse{
			ErrorResponse: ErrorResponse{
				Error: http.StatusText(status),
				Code:  status,
			},
		}
		groups := make([]string, len(failures))
		messages := make([]string, len(failures))
		for i, f := range failures {
			groups[i] = f.Group
			messages[i] = f.Error()
			resp.Fields = append(resp.Fields, f.Fields...)
		}
		resp.Group = strings.Join(groups, ",")
		resp.Message = strings.Join(messages, "; ")
		h.sendJSON(w, resp, status)
		return
	}

	if status == http.StatusInternalServerError {
		h.sendError(w, r, message, status)
		return
	}
	h.sendError(w, r, message+": "+err.Error(), status)
}

// RegisterRoutes registers all district API and view routes
func (h *DistrictHandler) RegisterRoutes(router *mux.Router) {
	router.Use(RequestID, Instrument(h.metrics))

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/districts", h.withSession(h.GetDistricts)).Methods("GET")
	api.HandleFunc("/districts/{name}/select", h.withSession(h.SelectDistrict)).Methods("POST")
	api.HandleFunc("/districts/{name}/data", h.withSession(h.GetDistrictData)).Methods("GET")
	api.HandleFunc("/districts/{name}/stats", h.GetDistrictStatistics).Methods("GET")
	api.HandleFunc("/adjustments", h.withSession(h.SubmitAdjustments)).Methods("POST")
	api.HandleFunc("/adjustments/random", h.withSession(h.RandomAdjustments)).Methods("POST")
	api.HandleFunc("/prediction", h.withSession(h.GetPrediction)).Methods("GET")
	api.HandleFunc("/session", h.withSession(h.GetSession)).Methods("GET")

	router.HandleFunc("/districts/{name}", h.withSession(h.DistrictPage)).Methods("GET")
	router.HandleFunc("/results", h.withSession(h.ResultsPage)).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.HandleFunc("/openapi.json", OpenAPISpec).Methods("GET")
	router.HandleFunc("/docs", SwaggerUI).Methods("GET")
}
