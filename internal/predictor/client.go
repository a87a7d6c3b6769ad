package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"district-insights/internal/models"
	"district-insights/pkg/logging"
	"district-insights/pkg/metrics"
)

// Backend operation names, used as metric and log labels
const (
	OpDistrictNames     = "get_district_names"
	OpSelectDistrict    = "select_district"
	OpImportantFeatures = "get_important_features"
	OpAdjustData        = "adjust_data"
	OpPredict           = "predict_adjusted_data"
)

// NetworkError is returned when a backend call fails or answers non-2xx.
// The response body is never parsed.
type NetworkError struct {
	Op         string
	StatusCode int
	StatusText string
	Err        error
}

func (e *NetworkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("API call failed: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("API call failed: %s: %s", e.Op, e.StatusText)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether retrying could succeed. Nothing retries
// automatically; callers use it for status mapping and logging.
func (e *NetworkError) IsTransient() bool {
	if e.Err != nil {
		return !errors.Is(e.Err, context.Canceled)
	}
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Service is the set of backend calls the adjustment workflow needs
type Service interface {
	DistrictNames(ctx context.Context) ([]string, error)
	SelectDistrict(ctx context.Context, name string) (string, error)
	ImportantFeatures(ctx context.Context) (models.FeatureNames, error)
	AdjustData(ctx context.Context, payload any) (string, error)
	PredictAdjustedData(ctx context.Context) (*models.Prediction, error)
}

// Client talks to the prediction API. The backend keeps selection state per
// session, so each user session gets its own Client and cookie jar.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewClient creates a client with a fresh cookie jar. A nil httpClient uses
// one with the given timeout.
func NewClient(baseURL string, timeout time.Duration, httpClient *http.Client, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid backend URL %q: scheme must be http or https", baseURL)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	hc := &http.Client{Timeout: timeout}
	if httpClient != nil {
		copied := *httpClient
		hc = &copied
	}
	hc.Jar = jar

	return &Client{
		baseURL: u,
		http:    hc,
		logger:  logger,
		metrics: metricsCollector,
	}, nil
}

var whitespace = regexp.MustCompile(`\s+`)

// FormatDistrictName is the URL-safe form of a district name used in the
// select path: every whitespace run becomes a hyphen.
func FormatDistrictName(name string) string {
	return whitespace.ReplaceAllString(name, "-")
}

type districtNamesResponse struct {
	DistrictNames []string `json:"districtNames"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// DistrictNames lists the selectable districts
func (c *Client) DistrictNames(ctx context.Context) ([]string, error) {
	var resp districtNamesResponse
	if err := c.call(ctx, OpDistrictNames, http.MethodGet, "/api/get-district-names", nil, &resp); err != nil {
		return nil, err
	}
	if resp.DistrictNames == nil {
		resp.DistrictNames = []string{}
	}
	return resp.DistrictNames, nil
}

// SelectDistrict records the selection on the backend and returns its message
func (c *Client) SelectDistrict(ctx context.Context, name string) (string, error) {
	path := "/api/select-district/" + url.PathEscape(FormatDistrictName(name))
	var resp messageResponse
	if err := c.call(ctx, OpSelectDistrict, http.MethodPost, path, nil, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// ImportantFeatures returns the ordered feature names of the selected district
func (c *Client) ImportantFeatures(ctx context.Context) (models.FeatureNames, error) {
	var resp models.FeatureNames
	if err := c.call(ctx, OpImportantFeatures, http.MethodGet, "/api/get-important-features", nil, &resp); err != nil {
		return models.FeatureNames{}, err
	}
	return resp, nil
}

// AdjustData posts the adjustment payload
func (c *Client) AdjustData(ctx context.Context, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal adjustment payload: %w", err)
	}
	var resp messageResponse
	if err := c.call(ctx, OpAdjustData, http.MethodPost, "/api/adjust-data", body, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// PredictAdjustedData fetches the prediction for the last adjustment
func (c *Client) PredictAdjustedData(ctx context.Context) (*models.Prediction, error) {
	var resp models.Prediction
	if err := c.call(ctx, OpPredict, http.MethodGet, "/api/predict-adjusted-data", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Close drops idle connections
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

func (c *Client) call(ctx context.Context, op, method, path string, body []byte, out any) (err error) {
	start := time.Now()
	defer func() {
		c.metrics.RecordBackendCall(op, err, time.Since(start))
	}()

	endpoint := c.baseURL.String() + path

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if id := logging.RequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	c.logger.Debug(ctx, "[BACKEND_CALL] "+op, logging.Fields{
		"method": method,
		"path":   path,
	})

	resp, err := c.http.Do(req)
	if err != nil {
		netErr := &NetworkError{Op: op, Err: err}
		c.logger.Error(ctx, "[BACKEND_ERROR] "+op, logging.Fields{"path": path}, netErr)
		return netErr
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		netErr := &NetworkError{
			Op:         op,
			StatusCode: resp.StatusCode,
			StatusText: statusText(resp),
		}
		c.logger.Error(ctx, "[BACKEND_ERROR] "+op, logging.Fields{
			"path":   path,
			"status": resp.StatusCode,
		}, netErr)
		return netErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return &NetworkError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

// statusText is the reason phrase the server sent, or the standard one
func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}
