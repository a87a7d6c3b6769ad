package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"district-insights/internal/adjustment"
	"district-insights/internal/dataset"
	"district-insights/internal/models"
	"district-insights/internal/predictor"
	"district-insights/pkg/logging"
	"district-insights/pkg/metrics"
)

// ErrBusy is returned when a session already has a selection or
// submission in flight
var ErrBusy = errors.New("another request for this session is in progress")

// ErrNoSelection is returned when adjusting before a district is selected
var ErrNoSelection = errors.New("no district selected")

// Session is the workflow state of one user: the backend client bound to
// its cookies, the selected district and both adjustment groups.
type Session struct {
	ID string

	client predictor.Service
	cache  *QueryCache

	mu       sync.Mutex
	inFlight bool
	lastSeen time.Time

	district string
	features *models.FeatureNames
	table    *dataset.Table
	groupA   *adjustment.Group
	groupB   *adjustment.Group

	submitted bool
	pending   *models.Submission
}

// NewSession creates a session around a backend client
func NewSession(id string, client predictor.Service, metricsCollector *metrics.Collector) *Session {
	return &Session{
		ID:       id,
		client:   client,
		cache:    NewQueryCache(metricsCollector),
		lastSeen: time.Now(),
		groupA:   adjustment.NewDistrictGroup(),
		groupB:   adjustment.NewGradeGroup(),
	}
}

// Context tags ctx with the session ID for logging
func (s *Session) Context(ctx context.Context) context.Context {
	return logging.WithSessionID(ctx, s.ID)
}

// begin marks a sequence in flight; a second concurrent one gets ErrBusy
func (s *Session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return ErrBusy
	}
	s.inFlight = true
	return nil
}

func (s *Session) end() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// SessionState is a read-only snapshot of a session
type SessionState struct {
	ID             string                  `json:"session_id"`
	District       string                  `json:"district,omitempty"`
	Features       *models.FeatureNames    `json:"features,omitempty"`
	DistrictLabels []string                `json:"district_labels,omitempty"`
	GradeLabels    []string                `json:"grade_labels,omitempty"`
	DistrictValues adjustment.Values       `json:"district_values,omitempty"`
	GradeValues    adjustment.Values       `json:"grade_values,omitempty"`
	DistrictState  string                  `json:"district_state"`
	GradeState     string                  `json:"grade_state"`
	Errors         []adjustment.FieldError `json:"errors,omitempty"`
	Submitted      bool                    `json:"submitted"`
}

// State returns a snapshot of the session
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := SessionState{
		ID:             s.ID,
		District:       s.district,
		DistrictValues: s.groupA.Values(),
		GradeValues:    s.groupB.Values(),
		DistrictState:  s.groupA.State().String(),
		GradeState:     s.groupB.State().String(),
		Errors:         append(s.groupA.Errors(), s.groupB.Errors()...),
		Submitted:      s.submitted,
	}
	if s.features != nil {
		f := *s.features
		st.Features = &f
		st.DistrictLabels = s.groupA.Labels(f.TopLevel)
		st.GradeLabels = s.groupB.Labels(f.BottomLevel)
	}
	return st
}

// Selected returns the selected district, "" when none
func (s *Session) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.district
}

// WithTable runs fn on the retained table of district. It reports false
// when district is not the current selection.
func (s *Session) WithTable(district string, fn func(*dataset.Table) error) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.table == nil || !sameDistrict(s.district, district) {
		return false, nil
	}
	return true, fn(s.table)
}

func sameDistrict(a, b string) bool {
	return a != "" && dataset.Fold(a) == dataset.Fold(b)
}

func (s *Session) resetSelection() {
	s.mu.Lock()
	s.district = ""
	s.features = nil
	s.table = nil
	s.groupA = adjustment.NewDistrictGroup()
	s.groupB = adjustment.NewGradeGroup()
	s.submitted = false
	s.pending = nil
	s.mu.Unlock()
}

func newSubmissionID() string {
	return uuid.NewString()
}
