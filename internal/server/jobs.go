package server

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JonPisek/PyBEP/internal/curve"
	"github.com/JonPisek/PyBEP/internal/dataset"
	"github.com/JonPisek/PyBEP/internal/decomposition"
	apperrors "github.com/JonPisek/PyBEP/internal/errors"
)

// JobStatus is the lifecycle state of a decomposition job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the job can no longer change state.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

var (
	// ErrJobNotFound is returned for unknown job identifiers.
	ErrJobNotFound = apperrors.New("decomposition not found").WithKind(apperrors.KindNotFound)
	// ErrJobNotFinished is returned when a result is requested too early.
	ErrJobNotFinished = apperrors.New("decomposition has not completed")
	// ErrJobFinished is returned when cancelling a job in a terminal state.
	ErrJobFinished = apperrors.New("decomposition already finished").WithKind(apperrors.KindInvalidInput)
)

// RunFunc runs one search. decomposition.Run is the default.
type RunFunc func(ctx context.Context, cathodes, anodes curve.CandidateSet, measured curve.Measured, opts decomposition.Options) (*decomposition.Result, error)

// Job tracks one decomposition request. Fields are guarded by the server's
// job mutex.
type Job struct {
	ID          string
	Status      JobStatus
	StartTime   time.Time
	EndTime     *time.Time
	LastUpdated time.Time
	Done        int
	Total       int
	Err         error
	Result      *decomposition.Result
	Record      *decomposition.Record
	ResultFile  string

	cancel context.CancelFunc
}

// Progress returns the finished share of pair tasks in [0, 1].
func (j *Job) Progress() float64 {
	if j.Total == 0 {
		if j.Status == StatusCompleted {
			return 1
		}
		return 0
	}
	return float64(j.Done) / float64(j.Total)
}

var jobSeq atomic.Uint64

func newJobID() string {
	return fmt.Sprintf("dec_%d_%d", time.Now().UnixNano(), jobSeq.Add(1))
}

// startJob registers a job for in and runs it in the background.
func (s *Server) startJob(in *searchInput) *Job {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	job := &Job{
		ID:          newJobID(),
		Status:      StatusPending,
		StartTime:   now,
		LastUpdated: now,
		Total:       len(in.cathodes) * len(in.anodes) * in.opts.Iterations,
		cancel:      cancel,
	}

	s.jobsMu.Lock()
	s.pruneJobs(now)
	s.jobs[job.ID] = job
	s.jobsMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.runJob(ctx, job, in)
	}()

	s.logger.Info("Decomposition queued", map[string]interface{}{
		"decomposition_id": job.ID,
		"cathodes":         len(in.cathodes),
		"anodes":           len(in.anodes),
		"iterations":       in.opts.Iterations,
		"stretch":          in.opts.Stretch,
	})
	return job
}

// pruneJobs drops finished jobs that ended more than Jobs.Retention before
// now, then the oldest finished jobs beyond Jobs.MaxFinished. Zero disables
// either limit. The caller holds jobsMu.
func (s *Server) pruneJobs(now time.Time) {
	retention, limit := s.cfg.Jobs.Retention, s.cfg.Jobs.MaxFinished

	var finished []*Job
	for id, job := range s.jobs {
		if !job.Status.Terminal() || job.EndTime == nil {
			continue
		}
		if retention > 0 && now.Sub(*job.EndTime) > retention {
			delete(s.jobs, id)
			continue
		}
		finished = append(finished, job)
	}

	if limit > 0 && len(finished) > limit {
		sort.Slice(finished, func(i, j int) bool {
			return finished[i].EndTime.Before(*finished[j].EndTime)
		})
		for _, job := range finished[:len(finished)-limit] {
			delete(s.jobs, job.ID)
		}
	}
}

// runJob executes the search for job and records its outcome.
func (s *Server) runJob(ctx context.Context, job *Job, in *searchInput) {
	s.jobsMu.Lock()
	if job.Status != StatusPending {
		s.jobsMu.Unlock()
		return
	}
	job.Status = StatusRunning
	job.LastUpdated = time.Now()
	s.jobsMu.Unlock()

	opts := in.opts
	opts.Logger = s.zapLogger().With(zap.String("decomposition_id", job.ID))
	opts.Metrics = s.metrics
	opts.Progress = func(done, total int) {
		s.jobsMu.Lock()
		job.Done, job.Total = done, total
		job.LastUpdated = time.Now()
		s.jobsMu.Unlock()
	}

	res, err := s.run(ctx, in.cathodes, in.anodes, in.measured, opts)

	var rec *decomposition.Record
	var file string
	if err == nil && res.Best != nil {
		rec, err = decomposition.NewRecord(res)
		if err == nil && in.save {
			file = filepath.Join(s.cfg.Data.ResultsDir, job.ID+"_"+dataset.ResultFileName(res.Best.CathodeID, res.Best.AnodeID))
			err = dataset.WriteResult(file, rec)
		}
	}

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	now := time.Now()
	job.LastUpdated = now
	if job.Status == StatusCancelled {
		return
	}
	job.EndTime = &now

	switch {
	case err != nil:
		job.Status = StatusFailed
		job.Err = err
		s.logger.Error("Decomposition failed", map[string]interface{}{
			"decomposition_id": job.ID,
			"error":            err.Error(),
		})
	default:
		job.Status = StatusCompleted
		job.Result = res
		job.Record = rec
		job.ResultFile = file
		fields := map[string]interface{}{"decomposition_id": job.ID}
		if res.Best != nil {
			fields["cathode"] = res.Best.CathodeID
			fields["anode"] = res.Best.AnodeID
			fields["score"] = res.Best.Score
		}
		if res.Diagnostic != nil {
			fields["diagnostic"] = res.Diagnostic.Error()
		}
		s.logger.Info("Decomposition completed", fields)
	}
}

// job returns a snapshot of the job with the given id.
func (s *Server) job(id string) (Job, error) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return Job{}, apperrors.Wrapf(ErrJobNotFound, "id %q", id).WithComponent("server")
	}
	return *job, nil
}

// cancelJob stops a pending or running job.
func (s *Server) cancelJob(id string) error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return apperrors.Wrapf(ErrJobNotFound, "id %q", id).WithComponent("server")
	}
	if job.Status.Terminal() {
		return apperrors.Wrapf(ErrJobFinished, "status %s", job.Status).WithComponent("server")
	}

	job.cancel()
	now := time.Now()
	job.Status = StatusCancelled
	job.EndTime = &now
	job.LastUpdated = now

	s.logger.Info("Decomposition cancelled", map[string]interface{}{
		"decomposition_id": id,
	})
	return nil
}

// statusView is the wire form of a job status.
func statusView(job Job) map[string]interface{} {
	view := map[string]interface{}{
		"decomposition_id": job.ID,
		"status":           job.Status,
		"progress":         job.Progress(),
		"done":             job.Done,
		"total":            job.Total,
		"start_time":       job.StartTime.Format(time.RFC3339),
		"last_update":      job.LastUpdated.Format(time.RFC3339),
	}
	if job.EndTime != nil {
		view["end_time"] = job.EndTime.Format(time.RFC3339)
	}
	if job.Err != nil {
		view["error"] = job.Err.Error()
	}
	if job.ResultFile != "" {
		view["result_file"] = job.ResultFile
	}
	if res := job.Result; res != nil {
		if res.Diagnostic != nil {
			view["diagnostic"] = res.Diagnostic.Error()
		}
		if b := res.Best; b != nil {
			view["best"] = map[string]interface{}{
				"cathode_id": b.CathodeID,
				"anode_id":   b.AnodeID,
				"parameters": b.Window.Indices(),
				"score":      decomposition.Score(b.Score),
			}
		}
	}
	return view
}
