package search

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/site-finder/internal/events"
	"github.com/sells-group/site-finder/internal/metrics"
	"github.com/sells-group/site-finder/internal/model"
)

// Recorder persists completed searches.
type Recorder interface {
	SaveSearch(ctx context.Context, r *model.SearchResults) (string, error)
}

// Service runs searches and performs the write-through after each one:
// persist, notify, record metrics.
type Service struct {
	orch      *Orchestrator
	recorder  Recorder
	publisher events.Publisher
}

// NewService creates a Service. recorder and publisher may be nil.
func NewService(orch *Orchestrator, recorder Recorder, publisher events.Publisher) *Service {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Service{orch: orch, recorder: recorder, publisher: publisher}
}

// Search validates params, runs the search and persists the results. The
// returned results carry the persisted search ID when a recorder is set.
func (s *Service) Search(ctx context.Context, params model.SearchParameters) (*model.SearchResults, error) {
	if err := params.Validate(); err != nil {
		metrics.Searches.WithLabelValues(metrics.OutcomeRejected).Inc()
		return nil, err
	}

	start := time.Now()
	out, err := s.orch.Execute(ctx, params)
	metrics.SearchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Searches.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, err
	}
	results := out.Results
	metrics.Searches.WithLabelValues(outcomeLabel(out)).Inc()

	if s.recorder == nil {
		return results, nil
	}
	id, err := s.recorder.SaveSearch(ctx, results)
	if err != nil {
		return nil, err
	}
	results.ID = id

	if err := s.publisher.PublishSearchCompleted(ctx, events.NewSearchCompleted(results)); err != nil {
		zap.L().Warn("search: publish completed event failed",
			zap.String("search_id", id),
			zap.Error(err),
		)
	}
	return results, nil
}

func outcomeLabel(out *Outcome) string {
	switch {
	case out.Center == nil:
		return metrics.OutcomeNotFound
	case out.Results.TotalCount == 0:
		return metrics.OutcomeEmpty
	default:
		return metrics.OutcomeOK
	}
}
