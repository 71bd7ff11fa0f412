package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/richinsley/comfydrive/graphapi"
)

const (
	DefaultPollInterval = time.Second
	DefaultJobTimeout   = 120 * time.Second
)

// JobState is the lifecycle state of a submitted job.
type JobState string

const (
	JobSubmitted      JobState = "submitted"
	JobRunning        JobState = "running"
	JobCompleted      JobState = "completed"
	JobSubmitFailed   JobState = "submit_failed"
	JobExecutionError JobState = "execution_error"
	JobTimedOut       JobState = "timed_out"
	JobCancelled      JobState = "cancelled"
	JobNoOutput       JobState = "no_output"
	JobFetchFailed    JobState = "fetch_failed"
)

// Terminal reports whether no further transitions can happen.
func (s JobState) Terminal() bool {
	switch s {
	case JobSubmitted, JobRunning:
		return false
	}
	return true
}

// Job is one submitted prompt.
type Job struct {
	ID     string
	Number int
	// Graph is the graph as submitted, after seed enforcement.
	Graph *graphapi.Graph
	// Seed is the seed reported for this run.
	Seed uint64

	mu              sync.Mutex
	state           JobState
	cancelRequested bool
	stopPolling     context.CancelFunc
}

func (j *Job) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *Job) setState(s JobState) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

// Result is the terminal outcome of a job.
type Result struct {
	JobID string
	State JobState
	Seed  uint64
	// Reason is a human readable description of the outcome.
	Reason string
	// Err is the underlying cause for failed states.
	Err error

	History   *HistoryEntry
	Image     DataOutput
	ImageData []byte
}

// OK reports whether an image was produced and downloaded.
func (r *Result) OK() bool {
	return r.State == JobCompleted
}

// Orchestrator submits graphs and drives them to a terminal state by polling
// the server's history. Any number of jobs may be driven concurrently; the
// caller decides how many.
type Orchestrator struct {
	client       *ComfyClient
	taxonomy     *graphapi.Taxonomy
	pollInterval time.Duration
	timeout      time.Duration
	logger       *slog.Logger
}

type OrchestratorOption func(*Orchestrator)

func WithPollInterval(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithJobTimeout bounds the time a job may spend waiting for its result.
func WithJobTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithSeedTaxonomy sets the taxonomy used to recognise samplers during seed
// enforcement.
func WithSeedTaxonomy(tax *graphapi.Taxonomy) OrchestratorOption {
	return func(o *Orchestrator) {
		if tax != nil {
			o.taxonomy = tax
		}
	}
}

func WithOrchestratorLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func NewOrchestrator(c *ComfyClient, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		client:       c,
		taxonomy:     graphapi.DefaultTaxonomy(),
		pollInterval: DefaultPollInterval,
		timeout:      DefaultJobTimeout,
		logger:       c.logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) Client() *ComfyClient {
	return o.client
}

// Submit enforces concrete seeds on a copy of g and queues it. The reported
// seed is knownSeed when given, otherwise the one found by seed enforcement.
// On failure the returned job is in JobSubmitFailed and is not retried.
func (o *Orchestrator) Submit(ctx context.Context, g *graphapi.Graph, knownSeed *uint64) (*Job, error) {
	fixed, detected := o.taxonomy.EnforceSeeds(g)
	job := &Job{Graph: fixed, Seed: detected, state: JobSubmitted}
	if knownSeed != nil {
		job.Seed = *knownSeed
	}

	item, err := o.client.QueuePrompt(ctx, fixed)
	if err != nil {
		job.setState(JobSubmitFailed)
		return job, err
	}
	job.ID = item.PromptID
	job.Number = item.Number
	job.setState(JobRunning)

	o.logger.Info("job submitted", "prompt_id", job.ID, "seed", job.Seed)
	return job, nil
}

// Cancel stops waiting for job. The job resolves to JobCancelled and the
// server is asked to drop it.
func (o *Orchestrator) Cancel(job *Job) {
	job.mu.Lock()
	job.cancelRequested = true
	stop := job.stopPolling
	job.mu.Unlock()

	if stop != nil {
		stop()
	}
}

// Wait polls the job's history until it finishes, fails, times out or is
// cancelled, either through Cancel or through ctx. On completion the selected
// image is downloaded.
func (o *Orchestrator) Wait(ctx context.Context, job *Job) *Result {
	res := &Result{JobID: job.ID, Seed: job.Seed}
	if job.State().Terminal() {
		res.State = job.State()
		res.Reason = "job already finished"
		return res
	}

	pollCtx, stop := context.WithTimeout(ctx, o.timeout)
	defer stop()

	job.mu.Lock()
	job.stopPolling = stop
	cancelled := job.cancelRequested
	job.mu.Unlock()
	if cancelled {
		return o.abandon(job, res, JobCancelled, context.Canceled)
	}

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		entry, err := o.client.GetHistory(pollCtx, job.ID)
		switch {
		case err == nil && entry.Failed():
			msg := entry.ErrorMessage()
			o.logger.Error("job failed", "prompt_id", job.ID, "error", msg)
			res.History = entry
			return o.finish(job, res, JobExecutionError, msg, errors.New(msg))
		case err == nil && entry.HasOutputs:
			res.History = entry
			return o.collect(ctx, job, res)
		case err != nil && !errors.Is(err, ErrHistoryNotReady) && pollCtx.Err() == nil:
			o.logger.Warn("history poll failed", "prompt_id", job.ID, "attempt", attempt, "error", err)
		default:
			o.logger.Debug("job pending", "prompt_id", job.ID, "attempt", attempt)
		}

		select {
		case <-pollCtx.Done():
			job.mu.Lock()
			cancelled := job.cancelRequested
			job.mu.Unlock()
			if cancelled || ctx.Err() != nil {
				return o.abandon(job, res, JobCancelled, context.Canceled)
			}
			return o.abandon(job, res, JobTimedOut, pollCtx.Err())
		case <-ticker.C:
		}
	}
}

// Execute submits g and waits for it.
func (o *Orchestrator) Execute(ctx context.Context, g *graphapi.Graph, knownSeed *uint64) *Result {
	job, err := o.Submit(ctx, g, knownSeed)
	if err != nil {
		o.logger.Error("job submission failed", "error", err)
		return &Result{
			State:  JobSubmitFailed,
			Seed:   job.Seed,
			Reason: fmt.Sprintf("submit failed: %v", err),
			Err:    err,
		}
	}
	return o.Wait(ctx, job)
}

// collect picks and downloads the artifact of a completed job.
func (o *Orchestrator) collect(ctx context.Context, job *Job, res *Result) *Result {
	img, ok := res.History.SelectImage()
	if !ok {
		return o.finish(job, res, JobNoOutput, "no output image produced", nil)
	}
	res.Image = img

	data, err := o.client.GetImage(ctx, img)
	if err != nil {
		o.logger.Error("artifact fetch failed", "prompt_id", job.ID, "filename", img.Filename, "error", err)
		return o.finish(job, res, JobFetchFailed, fmt.Sprintf("artifact fetch failed: %v", err), err)
	}
	res.ImageData = data
	return o.finish(job, res, JobCompleted, "completed", nil)
}

func (o *Orchestrator) finish(job *Job, res *Result, state JobState, reason string, err error) *Result {
	job.setState(state)
	res.State = state
	res.Reason = reason
	res.Err = err
	return res
}

// abandon asks the server to drop the job, then resolves it. Failures of the
// remote calls are logged only.
func (o *Orchestrator) abandon(job *Job, res *Result, state JobState, cause error) *Result {
	ctx, cancel := context.WithTimeout(context.Background(), 2*controlTimeout)
	defer cancel()

	if err := o.client.DeleteFromQueue(ctx, job.ID); err != nil {
		o.logger.Warn("failed to delete job from queue", "prompt_id", job.ID, "error", err)
	}
	if err := o.client.Interrupt(ctx); err != nil {
		o.logger.Warn("failed to interrupt execution", "prompt_id", job.ID, "error", err)
	}

	reason := "cancelled"
	if state == JobTimedOut {
		reason = fmt.Sprintf("timed out after %s", o.timeout)
		o.logger.Warn("job timed out", "prompt_id", job.ID, "timeout", o.timeout)
	} else {
		o.logger.Info("job cancelled", "prompt_id", job.ID)
	}
	return o.finish(job, res, state, reason, cause)
}
