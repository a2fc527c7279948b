package testsupport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"celigo/internal/scheduler"
	"celigo/internal/services"
)

// JobPlan scripts how the fake scheduler treats one stage's job.
type JobPlan struct {
	// SubmitErr fails the submission.
	SubmitErr error
	// QueuedQueries is how many queue queries list the job before it leaves.
	QueuedQueries int
	// Produce is the output file, relative to the workspace, created when
	// the job has been queried ProduceAfter times. Empty never produces.
	Produce      string
	ProduceAfter int
	// QueryErr fails every queue query for the job.
	QueryErr error
}

type fakeJob struct {
	plan      JobPlan
	workspace string
	queries   int
}

// FakeScheduler stands in for sbatch and squeue. Plans are keyed by stage
// name (the script's base name) or by "<work unit>/<stage>" for per-unit
// behavior; a stage without a plan is accepted and never leaves the queue.
type FakeScheduler struct {
	mu        sync.Mutex
	next      int
	plans     map[string]JobPlan
	jobs      map[scheduler.JobID]*fakeJob
	submitted []string
}

// NewFakeScheduler returns an empty fake.
func NewFakeScheduler() *FakeScheduler {
	return &FakeScheduler{
		next:  1000,
		plans: make(map[string]JobPlan),
		jobs:  make(map[scheduler.JobID]*fakeJob),
	}
}

// Plan registers the behavior for key.
func (f *FakeScheduler) Plan(key string, plan JobPlan) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plans[key] = plan
}

// Submitted returns the submitted keys ("<work unit>/<stage>") in order.
func (f *FakeScheduler) Submitted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.submitted...)
}

// Submit implements the stage submitter's scheduler client.
func (f *FakeScheduler) Submit(_ context.Context, scriptPath string) (scheduler.JobID, string, error) {
	workspace := filepath.Dir(scriptPath)
	stage := strings.TrimSuffix(filepath.Base(scriptPath), ".sh")
	key := filepath.Base(workspace) + "/" + stage

	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, key)
	plan, ok := f.plans[key]
	if !ok {
		plan, ok = f.plans[stage]
	}
	if !ok {
		plan = JobPlan{QueuedQueries: 1 << 30}
	}
	if plan.SubmitErr != nil {
		return "", "sbatch: error", plan.SubmitErr
	}
	f.next++
	id := scheduler.JobID(fmt.Sprintf("%d", f.next))
	f.jobs[id] = &fakeJob{plan: plan, workspace: workspace}
	return id, fmt.Sprintf("Submitted batch job %s\n", id), nil
}

// InQueue implements the poller's queue checker.
func (f *FakeScheduler) InQueue(_ context.Context, id scheduler.JobID) (scheduler.QueueSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sample := scheduler.QueueSample{JobID: id}
	job, ok := f.jobs[id]
	if !ok {
		return sample, nil
	}
	if job.plan.QueryErr != nil {
		return sample, services.Wrap(services.ErrQuery, "fake", "squeue", string(id), job.plan.QueryErr)
	}
	job.queries++
	if job.plan.Produce != "" && job.queries >= job.plan.ProduceAfter {
		path := filepath.Join(job.workspace, filepath.FromSlash(job.plan.Produce))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return sample, errors.Join(services.ErrQuery, err)
		}
		if err := os.WriteFile(path, []byte("output"), 0o644); err != nil {
			return sample, errors.Join(services.ErrQuery, err)
		}
	}
	sample.Present = job.queries <= job.plan.QueuedQueries
	if sample.Present {
		sample.Output = "JOBID PARTITION NAME USER ST TIME NODES\n" + string(id) + " cpu job u R 0:01 1\n"
	} else {
		sample.Output = "JOBID PARTITION NAME USER ST TIME NODES\n"
	}
	return sample, nil
}
