package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"district-insights/internal/adjustment"
	"district-insights/internal/models"
	"district-insights/internal/repository"
	"district-insights/pkg/logging"
	"district-insights/pkg/metrics"
)

// Selection is the outcome of a successful district selection
type Selection struct {
	District       string              `json:"district"`
	Message        string              `json:"message,omitempty"`
	Features       models.FeatureNames `json:"features"`
	DistrictLabels []string            `json:"district_labels"`
	GradeLabels    []string            `json:"grade_labels"`
	Rows           int                 `json:"rows"`
}

// Submission is the outcome of a successful adjustment submission
type Submission struct {
	District string             `json:"district"`
	Payload  adjustment.Payload `json:"payload"`
	Message  string             `json:"message,omitempty"`
}

// AdjustmentService drives the select, adjust and predict workflow of a
// session against the prediction backend
type AdjustmentService struct {
	explorer *ExplorerService
	repo     repository.DistrictRepository
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewAdjustmentService creates a new adjustment service. repo may be nil,
// in which case submissions are not audited.
func NewAdjustmentService(explorer *ExplorerService, repo repository.DistrictRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *AdjustmentService {
	return &AdjustmentService{
		explorer: explorer,
		repo:     repo,
		logger:   logger,
		metrics:  metricsCollector,
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
	}
}

// SetRand replaces the random source used by AutoFill
func (s *AdjustmentService) SetRand(rng *rand.Rand) {
	s.rngMu.Lock()
	s.rng = rng
	s.rngMu.Unlock()
}

// DistrictNames lists the selectable districts, cached per session
func (s *AdjustmentService) DistrictNames(ctx context.Context, sess *Session) ([]string, error) {
	ctx = sess.Context(ctx)
	names, err := cachedFetch(ctx, sess.cache, KeyDistrictNames, sess.client.DistrictNames)
	if err != nil {
		s.logger.Error(ctx, "[DISTRICT_NAMES_ERROR] Failed to fetch district names", nil, err)
		return nil, err
	}
	return names, nil
}

// SelectDistrict tells the backend about the selection and then fetches the
// feature names. If either call fails the session is left with no
// selection and the error is returned.
func (s *AdjustmentService) SelectDistrict(ctx context.Context, sess *Session, name string) (*Selection, error) {
	if err := sess.begin(); err != nil {
		return nil, err
	}
	defer sess.end()

	ctx = sess.Context(ctx)
	s.logger.Info(ctx, "[SELECT_DISTRICT_START] Selecting district", logging.Fields{
		"district": name,
	})

	message, err := sess.client.SelectDistrict(ctx, name)
	if err != nil {
		sess.resetSelection()
		s.logger.Error(ctx, "[SELECT_DISTRICT_ERROR] Backend rejected selection", logging.Fields{
			"district": name,
			"stage":    "SELECT",
		}, err)
		return nil, err
	}

	sess.cache.Invalidate(KeyImportantFeatures)
	features, err := cachedFetch(ctx, sess.cache, KeyImportantFeatures, sess.client.ImportantFeatures)
	if err != nil {
		sess.resetSelection()
		s.logger.Error(ctx, "[SELECT_DISTRICT_ERROR] Failed to fetch important features", logging.Fields{
			"district": name,
			"stage":    "FEATURES",
		}, err)
		return nil, err
	}

	table, err := s.explorer.NewTable(ctx, name)
	if err != nil {
		// the selection stands; the data view shows no results
		s.logger.Warn(ctx, "[SELECT_DISTRICT_NO_DATA] District rows unavailable", logging.Fields{
			"district": name,
			"error":    err.Error(),
		})
	}

	groupA, groupB := adjustment.NewDistrictGroup(), adjustment.NewGradeGroup()
	sel := &Selection{
		District:       name,
		Message:        message,
		Features:       features,
		DistrictLabels: groupA.Labels(features.TopLevel),
		GradeLabels:    groupB.Labels(features.BottomLevel),
		Rows:           table.Len(),
	}

	sess.mu.Lock()
	sess.district = name
	f := features
	sess.features = &f
	sess.table = table
	sess.groupA = groupA
	sess.groupB = groupB
	sess.submitted = false
	sess.pending = nil
	sess.mu.Unlock()

	s.logger.Info(ctx, "[SELECT_DISTRICT_COMPLETE] District selected", logging.Fields{
		"district":        name,
		"top_features":    len(features.TopLevel),
		"bottom_features": len(features.BottomLevel),
		"rows":            sel.Rows,
	})
	return sel, nil
}

// Submit validates a and then b, builds the payload and posts it. Both
// groups are always validated; if either fails the failures are joined,
// nothing is sent and adjustment.Failures recovers them. On success the
// cached prediction is invalidated.
func (s *AdjustmentService) Submit(ctx context.Context, sess *Session, a, b adjustment.Validator) (*Submission, error) {
	if err := sess.begin(); err != nil {
		return nil, err
	}
	defer sess.end()
	return s.submit(sess.Context(ctx), sess, a, b)
}

// SubmitValues writes the raw inputs into the session's groups and submits them
func (s *AdjustmentService) SubmitValues(ctx context.Context, sess *Session, district, grade []string) (*Submission, error) {
	if err := sess.begin(); err != nil {
		return nil, err
	}
	defer sess.end()

	sess.mu.Lock()
	sess.groupA.Fill(district)
	sess.groupB.Fill(grade)
	a, b := sess.groupA, sess.groupB
	sess.mu.Unlock()

	return s.submit(sess.Context(ctx), sess, a, b)
}

func (s *AdjustmentService) submit(ctx context.Context, sess *Session, a, b adjustment.Validator) (*Submission, error) {
	sess.mu.Lock()
	district := sess.district
	var features models.FeatureNames
	if sess.features != nil {
		features = *sess.features
	}
	sess.mu.Unlock()

	if district == "" {
		return nil, ErrNoSelection
	}

	sess.mu.Lock()
	valuesA, errA := a.Validate()
	valuesB, errB := b.Validate()
	sess.mu.Unlock()

	if errA == nil && errB == nil {
		return s.send(ctx, sess, district, adjustment.BuildPayload(valuesA, valuesB, features))
	}

	err := errors.Join(errA, errB)
	for _, failure := range adjustment.Failures(err) {
		s.metrics.RecordValidationFailure(failure.Group)
	}
	s.metrics.RecordSubmission("invalid")
	s.logger.Debug(ctx, "[SUBMIT_INVALID] Adjustment rejected by validation", logging.Fields{
		"district": district,
		"error":    err.Error(),
	})
	return nil, err
}

func (s *AdjustmentService) send(ctx context.Context, sess *Session, district string, payload adjustment.Payload) (*Submission, error) {
	message, err := sess.client.AdjustData(ctx, payload)
	if err != nil {
		s.metrics.RecordSubmission("failure")
		s.logger.Error(ctx, "[SUBMIT_ERROR] Failed to submit adjustments", logging.Fields{
			"district": district,
			"features": len(payload),
		}, err)
		return nil, err
	}

	sess.cache.Invalidate(KeyPrediction)
	s.metrics.RecordSubmission("success")

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	sess.mu.Lock()
	sess.submitted = true
	sess.pending = &models.Submission{
		ID:           newSubmissionID(),
		SessionID:    sess.ID,
		DistrictName: district,
		FeatureKeys:  payload.Keys(),
		Payload:      raw,
		CreatedAt:    time.Now().UTC(),
	}
	sess.mu.Unlock()

	s.logger.Info(ctx, "[SUBMIT_COMPLETE] Adjustments submitted", logging.Fields{
		"district": district,
		"features": len(payload),
	})
	return &Submission{District: district, Payload: payload, Message: message}, nil
}

// Prediction returns the prediction for the last submission, fetching it
// again after every successful submission. The first fetch after a
// submission also writes the audit record when a repository is configured.
func (s *AdjustmentService) Prediction(ctx context.Context, sess *Session) (*models.Prediction, error) {
	ctx = sess.Context(ctx)
	prediction, err := cachedFetch(ctx, sess.cache, KeyPrediction, sess.client.PredictAdjustedData)
	if err != nil {
		s.logger.Error(ctx, "[PREDICTION_ERROR] Failed to fetch prediction", nil, err)
		return nil, err
	}

	sess.mu.Lock()
	pending := sess.pending
	sess.pending = nil
	sess.mu.Unlock()

	if pending != nil && s.repo != nil {
		pending.Prediction = prediction
		if err := s.repo.SaveSubmission(ctx, pending); err != nil {
			s.logger.Error(ctx, "[SUBMISSION_AUDIT_ERROR] Failed to record submission", logging.Fields{
				"submission_id": pending.ID,
			}, err)
		}
	}
	return prediction, nil
}

// AutoFill writes random values into both groups of the session without
// validating them and returns the new values
func (s *AdjustmentService) AutoFill(sess *Session) (adjustment.Values, adjustment.Values, error) {
	if err := sess.begin(); err != nil {
		return nil, nil, err
	}
	defer sess.end()

	s.rngMu.Lock()
	defer s.rngMu.Unlock()

	sess.mu.Lock()
	defer sess.mu.Unlock()
	adjustment.AutoFill(s.rng, sess.groupA, sess.groupB)
	return sess.groupA.Values(), sess.groupB.Values(), nil
}
