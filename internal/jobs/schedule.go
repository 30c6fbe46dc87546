package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/msgforge/internal/storage"
	"github.com/kalambet/msgforge/internal/telemetry"
)

const (
	defaultSchedulePause    = 2 * time.Second
	defaultScheduleInterval = 4 * time.Hour
)

// Post is one item returned by a discovery source.
type Post struct {
	Title    string                    `json:"title"`
	Content  string                    `json:"content"`
	URL      string                    `json:"url"`
	Source   string                    `json:"source"`
	Keywords []string                  `json:"keywords,omitempty"`
	Metadata storage.PainPointMetadata `json:"metadata"`
}

type DiscoveryResult struct {
	Posts []Post `json:"posts"`
}

// Discoverer runs one discovery schedule against its source.
type Discoverer interface {
	RunSchedule(ctx context.Context, schedule storage.DiscoverySchedule) (DiscoveryResult, error)
}

// ScheduleStore is the persistence the ScheduleRunner needs.
type ScheduleStore interface {
	ListDueSchedules(now time.Time) ([]storage.DiscoverySchedule, error)
	MarkScheduleSucceeded(id string, ranAt, nextRun time.Time) error
	MarkScheduleFailed(id, errMsg string) error
	PainPointExistsByURL(url string) (bool, error)
	SavePainPoint(p storage.PainPoint) error
}

// Tagger fills in keywords and metadata for posts that arrive without them.
type Tagger interface {
	Fill(ctx context.Context, p *storage.PainPoint)
}

// RunSummary reports one pass over the due schedules.
type RunSummary struct {
	Processed  int      `json:"processed"`
	Discovered int      `json:"discovered"`
	Errors     []string `json:"errors,omitempty"`
}

// ScheduleRunner processes due discovery schedules.
type ScheduleRunner struct {
	store      ScheduleStore
	discoverer Discoverer
	tagger     Tagger
	pause      time.Duration
	interval   time.Duration
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	logger     *slog.Logger
}

func NewScheduleRunner(store ScheduleStore, discoverer Discoverer) *ScheduleRunner {
	return &ScheduleRunner{
		store:      store,
		discoverer: discoverer,
		pause:      defaultSchedulePause,
		interval:   defaultScheduleInterval,
		now:        time.Now,
		sleep:      sleepCtx,
		logger:     slog.Default(),
	}
}

// WithTagger makes the runner tag new pain points before saving them.
func (r *ScheduleRunner) WithTagger(t Tagger) *ScheduleRunner {
	r.tagger = t
	return r
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RunDue processes every active schedule that is due, one after another
// with a pause in between. A failing schedule keeps its next run time so it
// is picked up again on the next pass; the others still run.
func (r *ScheduleRunner) RunDue(ctx context.Context) (RunSummary, error) {
	var sum RunSummary

	due, err := r.store.ListDueSchedules(r.now())
	if err != nil {
		return sum, fmt.Errorf("listing due schedules: %w", err)
	}

	for i, sc := range due {
		if i > 0 {
			if err := r.sleep(ctx, r.pause); err != nil {
				return sum, err
			}
		}

		n, err := r.runOne(ctx, sc)
		sum.Processed++
		if err != nil {
			r.logger.Warn("discovery schedule failed", "schedule_id", sc.ID, "name", sc.Name, "error", err)
			telemetry.SchedulesRun.WithLabelValues("failure").Inc()
			sum.Errors = append(sum.Errors, fmt.Sprintf("%s: %v", sc.Name, err))
			if markErr := r.store.MarkScheduleFailed(sc.ID, err.Error()); markErr != nil {
				r.logger.Error("recording schedule failure", "schedule_id", sc.ID, "error", markErr)
			}
			continue
		}

		ranAt := r.now()
		if err := r.store.MarkScheduleSucceeded(sc.ID, ranAt, ranAt.Add(r.interval)); err != nil {
			r.logger.Error("rescheduling discovery", "schedule_id", sc.ID, "error", err)
			sum.Errors = append(sum.Errors, fmt.Sprintf("%s: rescheduling: %v", sc.Name, err))
			continue
		}
		telemetry.SchedulesRun.WithLabelValues("success").Inc()
		sum.Discovered += n
		r.logger.Info("discovery schedule ran", "schedule_id", sc.ID, "name", sc.Name, "new_pain_points", n)
	}
	return sum, nil
}

// runOne runs a schedule and stores posts not seen before. Returns the
// number of new pain points.
func (r *ScheduleRunner) runOne(ctx context.Context, sc storage.DiscoverySchedule) (int, error) {
	res, err := r.discoverer.RunSchedule(ctx, sc)
	if err != nil {
		return 0, err
	}

	saved := 0
	for _, p := range res.Posts {
		if p.Title == "" {
			continue
		}
		exists, err := r.store.PainPointExistsByURL(p.URL)
		if err != nil {
			return saved, fmt.Errorf("checking %s: %w", p.URL, err)
		}
		if exists {
			continue
		}
		source := p.Source
		if source == "" {
			source = sc.Config.Source
		}
		pp := storage.PainPoint{
			ID:        uuid.NewString(),
			Title:     p.Title,
			Content:   p.Content,
			Source:    source,
			SourceURL: p.URL,
			Keywords:  p.Keywords,
			Metadata:  p.Metadata,
		}
		if r.tagger != nil {
			r.tagger.Fill(ctx, &pp)
		}
		if err := r.store.SavePainPoint(pp); err != nil {
			return saved, fmt.Errorf("saving pain point: %w", err)
		}
		saved++
	}
	return saved, nil
}
