package analysis

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/clauselens/clauselens/internal/contract"
)

// DeadlineWindow is how far ahead a key date counts as an upcoming deadline,
// inclusive of the boundary instant.
const DeadlineWindow = 30 * 24 * time.Hour

// Store is the persistence surface the pipeline needs. Writes are
// read-modify-write on a single record by id; the pipeline re-reads before
// each terminal write since no cross-run locking is provided.
type Store interface {
	GetByID(ctx context.Context, id string) (*contract.Record, error)
	Update(ctx context.Context, rec *contract.Record) error
	FindWithText(ctx context.Context, excludeID string, limit int) ([]contract.Record, error)
}

// DeadlineNotifier dispatches a deadline notification on a detached task.
// Implementations own their error handling; the pipeline never waits on them.
type DeadlineNotifier interface {
	Dispatch(rec *contract.Record, deadlines []contract.KeyDate)
}

// Pipeline sequences the analysis stages for one document: intelligence
// extraction, risk, compliance, pricing, similarity, aggregation. Stages are
// strictly ordered by data dependency; only intelligence failure is fatal,
// every later stage degrades to its fallback and the run continues.
type Pipeline struct {
	store    Store
	stages   StageRunner
	notifier DeadlineNotifier
	now      func() time.Time
}

func NewPipeline(store Store, stages StageRunner, notifier DeadlineNotifier) *Pipeline {
	return &Pipeline{store: store, stages: stages, notifier: notifier, now: time.Now}
}

// stageResults accumulates per-stage outputs so the terminal write can apply
// them onto a freshly read record.
type stageResults struct {
	intel contract.Intelligence

	riskOK    bool
	riskLevel contract.RiskLevel
	risks     []contract.Risk

	complianceOK    bool
	complianceScore int
	issues          []contract.ComplianceIssue

	pricingOK bool
	pricing   contract.PricingAnalysis

	similar    []contract.SimilarContract
	confidence float64
}

// Analyze runs the full pipeline for the record with the given id. On
// failure it records the error on the record (fresh read first) and returns
// both the best-effort record and the error.
func (p *Pipeline) Analyze(ctx context.Context, id string) (*contract.Record, error) {
	rec, err := p.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.EnsureDefaults()

	if strings.TrimSpace(rec.Text) == "" {
		return rec, contract.NewError(contract.CodeEmptyContent, "contract %s has no extracted text", id)
	}

	started := p.now()
	rec.Status = contract.StatusProcessing
	rec.UpdatedAt = started
	if err := p.store.Update(ctx, rec); err != nil {
		return rec, err
	}

	res := stageResults{}

	intel, intelOut := p.stages.ExtractIntelligence(ctx, rec.Text, rec.Title)
	if !intelOut.OK {
		return p.fail(ctx, id, intelOut.Err)
	}
	res.intel = intel
	mergeIntelligence(rec, intel)

	level, risks, riskOut := p.stages.AssessRisk(ctx, rec.Text, rec.Intelligence())
	if riskOut.OK {
		res.riskOK = true
		res.riskLevel = level
		res.risks = risks
	} else {
		log.Printf("analysis pipeline id=%s risk stage degraded: %v", id, riskOut.Err)
	}

	score, issues, complianceOut := p.stages.CheckCompliance(ctx, rec.Text, rec.Intelligence())
	if complianceOut.OK {
		res.complianceOK = true
		res.complianceScore = score
		res.issues = issues
	} else {
		log.Printf("analysis pipeline id=%s compliance stage degraded: %v", id, complianceOut.Err)
	}

	pricingOut := StageOutcome{}
	if len(rec.FinancialTerms) > 0 {
		var pricing contract.PricingAnalysis
		pricing, pricingOut = p.stages.AnalyzePricing(ctx, rec.Text, rec.FinancialTerms)
		if pricingOut.OK {
			res.pricingOK = true
			res.pricing = pricing
		} else {
			log.Printf("analysis pipeline id=%s pricing stage degraded: %v", id, pricingOut.Err)
		}
	}

	candidates, err := p.store.FindWithText(ctx, id, MaxSimilarCandidates)
	if err != nil {
		return p.fail(ctx, id, err)
	}
	pool := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		pool = append(pool, Candidate{ID: c.ID, Text: c.Text})
	}
	res.similar = FindSimilar(rec.Text, pool, DefaultSimilarLimit)

	res.confidence = aggregateConfidence(intelOut.Confidence, riskOut.Confidence, complianceOut.Confidence)

	// Terminal write: fresh read, apply, persist.
	fresh, err := p.store.GetByID(ctx, id)
	if err != nil {
		return p.fail(ctx, id, err)
	}
	fresh.EnsureDefaults()
	applyResults(fresh, res)

	completed := p.now()
	fresh.ConfidenceScore = res.confidence
	fresh.AnalysisDate = &completed
	fresh.ProcessingTime = completed.Sub(started)
	fresh.Status = contract.StatusAnalyzed
	fresh.LastError = ""
	fresh.ErrorCount = 0
	fresh.UpdatedAt = completed
	if err := p.store.Update(ctx, fresh); err != nil {
		return p.fail(ctx, id, err)
	}

	if p.notifier != nil {
		if upcoming := UpcomingDeadlines(fresh.KeyDates, completed, DeadlineWindow); len(upcoming) > 0 {
			p.notifier.Dispatch(fresh, upcoming)
		}
	}
	return fresh, nil
}

// fail re-reads the record so a stale in-memory copy never overwrites
// concurrent writes, then records the failure state.
func (p *Pipeline) fail(ctx context.Context, id string, runErr error) (*contract.Record, error) {
	fresh, err := p.store.GetByID(ctx, id)
	if err != nil {
		log.Printf("analysis pipeline id=%s failed and could not re-read record: %v", id, err)
		return nil, runErr
	}
	fresh.EnsureDefaults()
	fresh.Status = contract.StatusFailed
	fresh.LastError = runErr.Error()
	fresh.ErrorCount++
	fresh.UpdatedAt = p.now()
	if uerr := p.store.Update(ctx, fresh); uerr != nil {
		log.Printf("analysis pipeline id=%s failed and could not persist failure: %v", id, uerr)
	}
	return fresh, runErr
}

// mergeIntelligence overwrites an entity array only when the stage produced a
// non-empty one, so re-analysis never erases previously extracted data.
func mergeIntelligence(rec *contract.Record, intel contract.Intelligence) {
	if len(intel.Parties) > 0 {
		rec.Parties = intel.Parties
	}
	if len(intel.KeyDates) > 0 {
		rec.KeyDates = intel.KeyDates
	}
	if len(intel.FinancialTerms) > 0 {
		rec.FinancialTerms = intel.FinancialTerms
	}
	if len(intel.Clauses) > 0 {
		rec.Clauses = intel.Clauses
	}
}

func applyResults(rec *contract.Record, res stageResults) {
	mergeIntelligence(rec, res.intel)
	if res.riskOK {
		rec.RiskLevel = res.riskLevel
		rec.Risks = res.risks
	}
	if res.complianceOK {
		score := res.complianceScore
		rec.ComplianceScore = &score
		rec.ComplianceIssues = res.issues
	}
	if res.pricingOK {
		pricing := res.pricing
		rec.Pricing = &pricing
	}
	// Similarity always replaces, including with empty.
	rec.SimilarContracts = res.similar
}

// aggregateConfidence is the arithmetic mean of the non-zero stage
// confidences among intelligence, risk, and compliance. Pricing confidence is
// excluded from the aggregate.
func aggregateConfidence(values ...float64) float64 {
	sum := 0.0
	n := 0
	for _, v := range values {
		if v > 0 {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// UpcomingDeadlines returns the key dates within [now, now+window], both
// bounds inclusive.
func UpcomingDeadlines(dates []contract.KeyDate, now time.Time, window time.Duration) []contract.KeyDate {
	cutoff := now.Add(window)
	out := []contract.KeyDate{}
	for _, d := range dates {
		if d.Date.Before(now) || d.Date.After(cutoff) {
			continue
		}
		out = append(out, d)
	}
	return out
}
