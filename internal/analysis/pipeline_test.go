package analysis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/clauselens/clauselens/internal/contract"
)

type memStore struct {
	mu      sync.Mutex
	records map[string]*contract.Record
	updates int
}

func newMemStore(recs ...*contract.Record) *memStore {
	s := &memStore{records: map[string]*contract.Record{}}
	for _, r := range recs {
		clone := *r
		s.records[r.ID] = &clone
	}
	return s
}

func (s *memStore) GetByID(ctx context.Context, id string) (*contract.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, contract.NewError(contract.CodeNotFound, "contract %s not found", id)
	}
	clone := *rec
	return &clone, nil
}

func (s *memStore) Update(ctx context.Context, rec *contract.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; !ok {
		return contract.NewError(contract.CodeNotFound, "contract %s not found", rec.ID)
	}
	clone := *rec
	s.records[rec.ID] = &clone
	s.updates++
	return nil
}

func (s *memStore) FindWithText(ctx context.Context, excludeID string, limit int) ([]contract.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []contract.Record{}
	for _, rec := range s.records {
		if rec.ID == excludeID || rec.Text == "" {
			continue
		}
		out = append(out, *rec)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) FindByStatus(ctx context.Context, statuses []contract.Status, limit int) ([]contract.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []contract.Record{}
	for _, rec := range s.records {
		for _, status := range statuses {
			if rec.Status == status {
				out = append(out, *rec)
				break
			}
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

type fakeStages struct {
	intel      contract.Intelligence
	intelOut   StageOutcome
	riskLevel  contract.RiskLevel
	risks      []contract.Risk
	riskOut    StageOutcome
	score      int
	issues     []contract.ComplianceIssue
	compOut    StageOutcome
	pricing    contract.PricingAnalysis
	pricingOut StageOutcome

	pricingCalled bool
}

func (f *fakeStages) ExtractIntelligence(ctx context.Context, text, title string) (contract.Intelligence, StageOutcome) {
	return f.intel, f.intelOut
}

func (f *fakeStages) AssessRisk(ctx context.Context, text string, intel contract.Intelligence) (contract.RiskLevel, []contract.Risk, StageOutcome) {
	return f.riskLevel, f.risks, f.riskOut
}

func (f *fakeStages) CheckCompliance(ctx context.Context, text string, intel contract.Intelligence) (int, []contract.ComplianceIssue, StageOutcome) {
	return f.score, f.issues, f.compOut
}

func (f *fakeStages) AnalyzePricing(ctx context.Context, text string, terms []contract.FinancialTerm) (contract.PricingAnalysis, StageOutcome) {
	f.pricingCalled = true
	return f.pricing, f.pricingOut
}

type fakeDispatcher struct {
	rec       *contract.Record
	deadlines []contract.KeyDate
	calls     int
}

func (f *fakeDispatcher) Dispatch(rec *contract.Record, deadlines []contract.KeyDate) {
	f.rec = rec
	f.deadlines = deadlines
	f.calls++
}

func happyStages() *fakeStages {
	return &fakeStages{
		intel: contract.Intelligence{
			Parties:        []contract.Party{{Name: "Acme", Role: "vendor"}},
			KeyDates:       []contract.KeyDate{},
			FinancialTerms: []contract.FinancialTerm{{Kind: "fee", Amount: 100, Currency: "USD"}},
			Clauses:        []contract.Clause{},
		},
		intelOut:  StageOutcome{OK: true, Confidence: 0.9},
		riskLevel: contract.RiskMedium,
		risks:     []contract.Risk{{Category: "liability", Severity: "medium", Description: "cap missing"}},
		riskOut:   StageOutcome{OK: true, Confidence: 0.8},
		score:     75,
		issues:    []contract.ComplianceIssue{},
		compOut:   StageOutcome{OK: true, Confidence: 0.7},
		pricing: contract.PricingAnalysis{
			MarketPosition:  contract.PositionAverage,
			Recommendations: []string{},
			ComparableTerms: []string{},
		},
		pricingOut: StageOutcome{OK: true, Confidence: 0.6},
	}
}

func testRecord(id string) *contract.Record {
	rec := &contract.Record{
		ID:     id,
		Title:  "Master Services Agreement",
		Text:   "This agreement covers termination and payment obligations in detail.",
		Status: contract.StatusPending,
	}
	rec.EnsureDefaults()
	return rec
}

func TestAnalyzeHappyPath(t *testing.T) {
	store := newMemStore(testRecord("c1"))
	stages := happyStages()
	notifier := &fakeDispatcher{}
	p := NewPipeline(store, stages, notifier)

	rec, err := p.Analyze(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if rec.Status != contract.StatusAnalyzed {
		t.Fatalf("expected analyzed status, got %q", rec.Status)
	}
	if rec.RiskLevel != contract.RiskMedium {
		t.Fatalf("unexpected risk level: %q", rec.RiskLevel)
	}
	if rec.ComplianceScore == nil || *rec.ComplianceScore != 75 {
		t.Fatalf("unexpected compliance score: %v", rec.ComplianceScore)
	}
	if rec.Pricing == nil {
		t.Fatal("expected pricing analysis")
	}
	if !stages.pricingCalled {
		t.Fatal("pricing stage should run when financial terms exist")
	}
	if rec.AnalysisDate == nil {
		t.Fatal("analysis date must be set")
	}
	if rec.LastError != "" || rec.ErrorCount != 0 {
		t.Fatalf("successful run must clear error state: %q %d", rec.LastError, rec.ErrorCount)
	}

	// Mean of the non-zero stage confidences: (0.9+0.8+0.7)/3.
	want := (0.9 + 0.8 + 0.7) / 3
	if diff := rec.ConfidenceScore - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("confidence: got %v want %v", rec.ConfidenceScore, want)
	}
}

func TestAnalyzeConfidenceSkipsZeroStages(t *testing.T) {
	store := newMemStore(testRecord("c1"))
	stages := happyStages()
	stages.riskOut = StageOutcome{Err: errors.New("model timeout")}
	stages.compOut = StageOutcome{OK: true, Confidence: 0.6}
	stages.intelOut = StageOutcome{OK: true, Confidence: 0.9}
	p := NewPipeline(store, stages, nil)

	rec, err := p.Analyze(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	want := (0.9 + 0.6) / 2
	if diff := rec.ConfidenceScore - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("confidence: got %v want %v", rec.ConfidenceScore, want)
	}
	// The degraded stage leaves prior values untouched.
	if rec.RiskLevel != "" {
		t.Fatalf("degraded risk stage must not set a level, got %q", rec.RiskLevel)
	}
	if rec.Status != contract.StatusAnalyzed {
		t.Fatalf("partial degradation still completes the run, got %q", rec.Status)
	}
}

func TestAnalyzeEmptyTextRejectedBeforeProcessing(t *testing.T) {
	rec := testRecord("c1")
	rec.Text = "   "
	store := newMemStore(rec)
	p := NewPipeline(store, happyStages(), nil)

	got, err := p.Analyze(context.Background(), "c1")
	if !contract.IsCode(err, contract.CodeEmptyContent) {
		t.Fatalf("expected empty_content, got %v", err)
	}
	if got == nil {
		t.Fatal("expected the record back")
	}
	if store.updates != 0 {
		t.Fatalf("no status transition may be persisted, got %d updates", store.updates)
	}
}

func TestAnalyzeIntelligenceFailureIsFatal(t *testing.T) {
	store := newMemStore(testRecord("c1"))
	stages := happyStages()
	stages.intelOut = StageOutcome{Err: contract.NewError(contract.CodeCapabilityError, "intelligence: upstream 500")}
	p := NewPipeline(store, stages, nil)

	rec, err := p.Analyze(context.Background(), "c1")
	if !contract.IsCode(err, contract.CodeCapabilityError) {
		t.Fatalf("expected capability_error, got %v", err)
	}
	if rec.Status != contract.StatusFailed {
		t.Fatalf("expected failed status, got %q", rec.Status)
	}
	if rec.LastError == "" {
		t.Fatal("last error must be recorded")
	}
	if rec.ErrorCount != 1 {
		t.Fatalf("error count should be 1, got %d", rec.ErrorCount)
	}
}

func TestAnalyzeErrorCountAccumulates(t *testing.T) {
	store := newMemStore(testRecord("c1"))
	stages := happyStages()
	stages.intelOut = StageOutcome{Err: errors.New("boom")}
	p := NewPipeline(store, stages, nil)

	_, _ = p.Analyze(context.Background(), "c1")
	rec, _ := p.Analyze(context.Background(), "c1")
	if rec.ErrorCount != 2 {
		t.Fatalf("error count should accumulate across runs, got %d", rec.ErrorCount)
	}
}

func TestMergeKeepsPriorEntitiesOnEmptyExtraction(t *testing.T) {
	rec := testRecord("c1")
	rec.Parties = []contract.Party{{Name: "Old Co", Role: "customer"}}
	store := newMemStore(rec)

	stages := happyStages()
	stages.intel = contract.Intelligence{
		Parties:        []contract.Party{},
		KeyDates:       []contract.KeyDate{},
		FinancialTerms: []contract.FinancialTerm{},
		Clauses:        []contract.Clause{},
	}
	p := NewPipeline(store, stages, nil)

	got, err := p.Analyze(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if len(got.Parties) != 1 || got.Parties[0].Name != "Old Co" {
		t.Fatalf("empty extraction must not erase prior parties: %+v", got.Parties)
	}
}

func TestReanalysisWithIdenticalOutputsIsIdempotent(t *testing.T) {
	store := newMemStore(testRecord("c1"))
	stages := happyStages()
	p := NewPipeline(store, stages, nil)

	first, err := p.Analyze(context.Background(), "c1")
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := p.Analyze(context.Background(), "c1")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Status != contract.StatusAnalyzed {
		t.Fatalf("expected analyzed, got %q", second.Status)
	}
	if len(second.Parties) != len(first.Parties) || len(second.FinancialTerms) != len(first.FinancialTerms) {
		t.Fatalf("re-run must not duplicate entities: %+v vs %+v", first, second)
	}
	if len(second.Risks) != len(first.Risks) {
		t.Fatalf("re-run must not duplicate risks: %d vs %d", len(first.Risks), len(second.Risks))
	}
}

func TestSimilarityAlwaysReplaced(t *testing.T) {
	rec := testRecord("c1")
	rec.SimilarContracts = []contract.SimilarContract{{ContractID: "stale", Similarity: 0.9}}
	store := newMemStore(rec)
	p := NewPipeline(store, happyStages(), nil)

	got, err := p.Analyze(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if len(got.SimilarContracts) != 0 {
		t.Fatalf("similarity must be recomputed each run, got %+v", got.SimilarContracts)
	}
}

func TestNotifierReceivesUpcomingDeadlines(t *testing.T) {
	store := newMemStore(testRecord("c1"))
	stages := happyStages()
	soon := time.Now().Add(10 * 24 * time.Hour)
	past := time.Now().Add(-24 * time.Hour)
	far := time.Now().Add(90 * 24 * time.Hour)
	stages.intel.KeyDates = []contract.KeyDate{
		{DateType: "renewal", Date: soon},
		{DateType: "expired", Date: past},
		{DateType: "distant", Date: far},
	}
	notifier := &fakeDispatcher{}
	p := NewPipeline(store, stages, notifier)

	if _, err := p.Analyze(context.Background(), "c1"); err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if notifier.calls != 1 {
		t.Fatalf("expected one dispatch, got %d", notifier.calls)
	}
	if len(notifier.deadlines) != 1 || notifier.deadlines[0].DateType != "renewal" {
		t.Fatalf("unexpected deadlines: %+v", notifier.deadlines)
	}
}

func TestUpcomingDeadlinesWindowInclusive(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	boundary := now.Add(DeadlineWindow)
	beyond := boundary.Add(time.Second)
	dates := []contract.KeyDate{
		{DateType: "at-now", Date: now},
		{DateType: "at-boundary", Date: boundary},
		{DateType: "beyond", Date: beyond},
	}
	got := UpcomingDeadlines(dates, now, DeadlineWindow)
	if len(got) != 2 {
		t.Fatalf("expected both bounds inclusive, got %+v", got)
	}
	if got[0].DateType != "at-now" || got[1].DateType != "at-boundary" {
		t.Fatalf("unexpected deadlines: %+v", got)
	}
}

func TestAnalyzeSkipsPricingWithoutFinancialTerms(t *testing.T) {
	store := newMemStore(testRecord("c1"))
	stages := happyStages()
	stages.intel.FinancialTerms = []contract.FinancialTerm{}
	p := NewPipeline(store, stages, nil)

	rec, err := p.Analyze(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if stages.pricingCalled {
		t.Fatal("pricing must be skipped without financial terms")
	}
	if rec.Pricing != nil {
		t.Fatalf("unexpected pricing: %+v", rec.Pricing)
	}
}

func TestAnalyzeNotFound(t *testing.T) {
	store := newMemStore()
	p := NewPipeline(store, happyStages(), nil)
	if _, err := p.Analyze(context.Background(), "missing"); !contract.IsCode(err, contract.CodeNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
}
