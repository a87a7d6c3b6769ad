package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"district-insights/internal/adjustment"
	"district-insights/internal/dataset"
	"district-insights/internal/models"
	"district-insights/internal/repository"
	"district-insights/pkg/logging"
	"district-insights/pkg/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const districtCSV = `leanm,grade,year,math,rla
Alpha,3,2019,0.25,0.10
Alpha,4,2019,-0.12,0.33
alpha,5,2018,0.91,
Alpha City,3,2019,0.50,0.50
Beta,3,2019,0.01,0.02
Beta,4,2018,x,0.2
`

func seq(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = prefix + strconv.Itoa(i+1)
	}
	return out
}

// fakeBackend is an in-memory predictor.Service
type fakeBackend struct {
	mu          sync.Mutex
	calls       []string
	adjusted    []adjustment.Payload
	features    models.FeatureNames
	prediction  models.Prediction
	selectErr   error
	featuresErr error
	adjustErr   error
	predictErr  error

	// when set, SelectDistrict signals entered and waits for release
	entered chan struct{}
	release chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		features: models.FeatureNames{TopLevel: seq("F", 10), BottomLevel: seq("G", 2)},
		prediction: models.Prediction{
			DistrictPercentIncrease:         "2.5",
			SimilarDistrictsPercentIncrease: "1.1",
		},
	}
}

func (f *fakeBackend) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeBackend) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeBackend) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) DistrictNames(ctx context.Context) ([]string, error) {
	f.record("names")
	return []string{"Alpha", "Beta"}, nil
}

func (f *fakeBackend) SelectDistrict(ctx context.Context, name string) (string, error) {
	f.record("select:" + name)
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	if f.selectErr != nil {
		return "", f.selectErr
	}
	return "selected " + name, nil
}

func (f *fakeBackend) ImportantFeatures(ctx context.Context) (models.FeatureNames, error) {
	f.record("features")
	if f.featuresErr != nil {
		return models.FeatureNames{}, f.featuresErr
	}
	return f.features, nil
}

func (f *fakeBackend) AdjustData(ctx context.Context, payload any) (string, error) {
	f.record("adjust")
	if f.adjustErr != nil {
		return "", f.adjustErr
	}
	f.mu.Lock()
	f.adjusted = append(f.adjusted, payload.(adjustment.Payload))
	f.mu.Unlock()
	return "ok", nil
}

func (f *fakeBackend) PredictAdjustedData(ctx context.Context) (*models.Prediction, error) {
	f.record("predict")
	if f.predictErr != nil {
		return nil, f.predictErr
	}
	p := f.prediction
	return &p, nil
}

// fakeRepo is an in-memory repository.DistrictRepository
type fakeRepo struct {
	mu          sync.Mutex
	scores      []*models.DistrictScore
	stats       map[string]*models.DistrictStatistics
	submissions []*models.Submission
	batches     []int
	batchErr    error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{stats: map[string]*models.DistrictStatistics{}}
}

func (r *fakeRepo) CreateScoresBatch(ctx context.Context, scores []*models.DistrictScore) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.batchErr != nil {
		return r.batchErr
	}
	r.batches = append(r.batches, len(scores))
	r.scores = append(r.scores, scores...)
	return nil
}

func (r *fakeRepo) matching(district string, year *int) []*models.DistrictScore {
	var out []*models.DistrictScore
	for _, s := range r.scores {
		if dataset.Fold(s.DistrictName) != dataset.Fold(district) {
			continue
		}
		if year != nil && (s.Year == nil || *s.Year != *year) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (r *fakeRepo) GetScores(ctx context.Context, filter repository.ScoreFilter) ([]*models.DistrictScore, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if filter.District == nil {
		return r.scores, len(r.scores), nil
	}
	out := r.matching(*filter.District, filter.Year)
	return out, len(out), nil
}

func (r *fakeRepo) ListDistrictNames(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[string]bool{}
	var names []string
	for _, s := range r.scores {
		if !seen[s.DistrictName] {
			seen[s.DistrictName] = true
			names = append(names, s.DistrictName)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (r *fakeRepo) ListYears(ctx context.Context, district string) ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[int]bool{}
	var years []int
	for _, s := range r.matching(district, nil) {
		if s.Year != nil && !seen[*s.Year] {
			seen[*s.Year] = true
			years = append(years, *s.Year)
		}
	}
	sort.Ints(years)
	return years, nil
}

func (r *fakeRepo) UpsertStatistics(ctx context.Context, stats *models.DistrictStatistics) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats[fmt.Sprintf("%s:%d", stats.DistrictName, stats.Year)] = stats
	return nil
}

func (r *fakeRepo) GetStatistics(ctx context.Context, filter repository.StatisticsFilter) ([]*models.DistrictStatistics, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.DistrictStatistics
	for _, s := range r.stats {
		if filter.District == nil || dataset.Fold(*filter.District) == dataset.Fold(s.DistrictName) {
			out = append(out, s)
		}
	}
	return out, len(out), nil
}

func (r *fakeRepo) CalculateYearlyStatistics(ctx context.Context, district string, year int) (*models.DistrictStatistics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows := r.matching(district, &year)
	if len(rows) == 0 {
		return nil, &repository.NotFoundError{Resource: "district_scores", ID: district}
	}
	stats := &models.DistrictStatistics{DistrictName: district, Year: year, RowCount: len(rows)}
	var mathSum, rlaSum float64
	for _, s := range rows {
		if s.Math != nil {
			stats.ValidMath++
			mathSum += *s.Math
		}
		if s.RLA != nil {
			stats.ValidRLA++
			rlaSum += *s.RLA
		}
	}
	if stats.ValidMath > 0 {
		avg := mathSum / float64(stats.ValidMath)
		stats.AvgMath = &avg
	}
	if stats.ValidRLA > 0 {
		avg := rlaSum / float64(stats.ValidRLA)
		stats.AvgRLA = &avg
	}
	return stats, nil
}

func (r *fakeRepo) SaveSubmission(ctx context.Context, sub *models.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submissions = append(r.submissions, sub)
	return nil
}

func (r *fakeRepo) HealthCheck(ctx context.Context) error { return nil }

func writeDataset(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "AL_Dist.csv")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write dataset: %v", err)
	}
	return path
}

type fixture struct {
	backend  *fakeBackend
	repo     *fakeRepo
	metrics  *metrics.Collector
	explorer *ExplorerService
	svc      *AdjustmentService
	sess     *Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logging.NewNopLogger()
	m := metrics.NewTestCollector()
	rows := NewCSVRows(dataset.FileSource{Path: writeDataset(t, districtCSV)}, "leanm", logger, m)
	explorer := NewExplorerService(rows, 10, logger, m)
	repo := newFakeRepo()
	backend := newFakeBackend()

	return &fixture{
		backend:  backend,
		repo:     repo,
		metrics:  m,
		explorer: explorer,
		svc:      NewAdjustmentService(explorer, repo, logger, m),
		sess:     NewSession("session-1", backend, m),
	}
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting")
	}
}
