package connector

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RunResult summarizes one pipeline run.
type RunResult struct {
	RunID     string        `json:"run_id"`
	Connector string        `json:"connector"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Inserted  int           `json:"inserted"`
	Updated   int           `json:"updated"`
	Error     string        `json:"error,omitempty"`
}

// Documents returns the total number of documents the run wrote.
func (r RunResult) Documents() int { return r.Inserted + r.Updated }

// Runner executes the fetch, transform and load stages for one source, in
// that order, aborting on the first failure. Data never moves backwards.
type Runner struct {
	source Source
	store  Store
	now    func() time.Time
}

func NewRunner(source Source, store Store) *Runner {
	return &Runner{
		source: source,
		store:  store,
		now:    time.Now,
	}
}

// Run executes one complete pipeline run. Every payload is transformed before
// the first write, so any fetch or transform failure leaves the collection
// untouched. The returned error carries the stage it occurred in.
func (r *Runner) Run(ctx context.Context) (res RunResult, err error) {
	res = RunResult{
		RunID:     uuid.NewString(),
		Connector: r.source.Name(),
		StartedAt: r.now().UTC(),
	}
	defer func() { res.Duration = r.now().UTC().Sub(res.StartedAt) }()

	payloads, err := r.source.Fetch(ctx)
	if err != nil {
		return res, &StageError{Stage: StageFetch, Err: err}
	}

	transformedAt := r.now().UTC()
	var records []Record
	for _, payload := range payloads {
		recs, terr := r.source.Transform(payload, transformedAt)
		if terr != nil {
			return res, &StageError{Stage: StageTransform, Err: terr}
		}
		records = append(records, recs...)
	}

	for _, rec := range records {
		if doc, ok := rec.Document.(IngestedAtSetter); ok {
			doc.SetIngestedAt(r.now().UTC())
		}

		if rec.KeyValue == "" {
			if err := r.store.Insert(ctx, rec.Document); err != nil {
				return res, &StageError{Stage: StageLoad, Err: err}
			}
			res.Inserted++
			continue
		}

		created, err := r.store.Upsert(ctx, rec.KeyField, rec.KeyValue, rec.Document)
		if err != nil {
			return res, &StageError{Stage: StageLoad, Err: err}
		}
		if created {
			res.Inserted++
		} else {
			res.Updated++
		}
	}

	return res, nil
}
