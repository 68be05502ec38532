package analysis

import (
	"context"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/clauselens/clauselens/internal/contract"
)

// BacklogStore extends Store with the status query the backlog sweep needs.
type BacklogStore interface {
	Store
	FindByStatus(ctx context.Context, statuses []contract.Status, limit int) ([]contract.Record, error)
}

// Service bundles the pipeline with corpus-level operations.
type Service struct {
	pipeline *Pipeline
	store    BacklogStore
}

func NewService(pipeline *Pipeline, store BacklogStore) *Service {
	return &Service{pipeline: pipeline, store: store}
}

func (s *Service) Analyze(ctx context.Context, id string) (*contract.Record, error) {
	return s.pipeline.Analyze(ctx, id)
}

type BacklogSummary struct {
	Attempted int      `json:"attempted"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

const defaultBacklogLimit = 100

// AnalyzeBacklog re-runs the pipeline over pending and failed records with
// bounded concurrency. Records are distinct by construction; concurrent
// analyze calls on the same id remain the caller's problem, as documented.
func (s *Service) AnalyzeBacklog(ctx context.Context, concurrency int) (BacklogSummary, error) {
	if concurrency <= 0 {
		concurrency = 2
	}
	pending, err := s.store.FindByStatus(ctx, []contract.Status{contract.StatusPending, contract.StatusFailed}, defaultBacklogLimit)
	if err != nil {
		return BacklogSummary{}, err
	}

	summary := BacklogSummary{Attempted: len(pending), Errors: []string{}}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, rec := range pending {
		id := rec.ID
		g.Go(func() error {
			_, runErr := s.pipeline.Analyze(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			if runErr != nil {
				summary.Failed++
				summary.Errors = append(summary.Errors, id+": "+runErr.Error())
				log.Printf("backlog analysis id=%s failed: %v", id, runErr)
				return nil // keep sweeping; per-record failures are recorded
			}
			summary.Succeeded++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}
	return summary, nil
}
