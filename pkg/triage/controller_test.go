package triage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/tansy/pkg/models"
	"github.com/Ramsey-B/tansy/pkg/policy"
)

type fakePipeline struct {
	mu         sync.Mutex
	jobs       []models.Job
	retryErr   map[uuid.UUID]error
	patchErr   map[uuid.UUID]error
	bulkResult *models.BulkRetryResult
	bulkErr    error
	listCalls  int
	patchCalls int
}

func (f *fakePipeline) ListJobs(ctx context.Context, filters models.JobFilters) (*models.JobPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	jobs := make([]models.Job, len(f.jobs))
	copy(jobs, f.jobs)
	return &models.JobPage{Jobs: jobs, Page: 1, TotalPages: 1, TotalCount: len(jobs)}, nil
}

func (f *fakePipeline) RetryJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.retryErr[id]; err != nil {
		return nil, err
	}
	for i := range f.jobs {
		if f.jobs[i].ID == id {
			f.jobs[i].Status = models.JobStatusQueued
			f.jobs[i].TriageState = models.TriageStateRetrying
			job := f.jobs[i]
			return &job, nil
		}
	}
	return nil, errors.New("job not found")
}

func (f *fakePipeline) BulkRetry(ctx context.Context, ids []uuid.UUID) (*models.BulkRetryResult, error) {
	if f.bulkErr != nil {
		return nil, f.bulkErr
	}
	return f.bulkResult, nil
}

func (f *fakePipeline) PatchTriage(ctx context.Context, id uuid.UUID, patch models.TriagePatch) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patchCalls++
	if err := f.patchErr[id]; err != nil {
		return nil, err
	}
	for i := range f.jobs {
		if f.jobs[i].ID == id {
			if patch.TriageState != nil {
				f.jobs[i].TriageState = *patch.TriageState
			}
			if patch.AddTag != nil {
				f.jobs[i].Tags = append(f.jobs[i].Tags, *patch.AddTag)
			}
			job := f.jobs[i]
			return &job, nil
		}
	}
	return nil, errors.New("job not found")
}

func (f *fakePipeline) JobEvents(ctx context.Context, id uuid.UUID) ([]models.JobEvent, error) {
	return nil, nil
}

type fakeRefresher struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeRefresher) Refresh(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
}

func (f *fakeRefresher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func failedJob() models.Job {
	code := "ENCODE_TIMEOUT"
	return models.Job{
		ID:          uuid.New(),
		JobType:     models.JobTypeEditRender,
		Status:      models.JobStatusFailed,
		Attempt:     3,
		MaxAttempts: 5,
		TriageState: models.TriageStateOpen,
		ErrorCode:   &code,
	}
}

func loadedController(t *testing.T, svc *fakePipeline, refresher TelemetryRefresher) *Controller {
	t.Helper()
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	c := NewController(svc, refresher, logger)
	_, err := c.Load(context.Background(), models.JobFilters{Status: models.JobStatusFailed})
	require.NoError(t, err)
	return c
}

func TestLoadClearsSelection(t *testing.T) {
	svc := &fakePipeline{jobs: []models.Job{failedJob(), failedJob()}}
	c := loadedController(t, svc, nil)

	c.SelectAll()
	view, err := c.Load(context.Background(), models.JobFilters{})
	require.NoError(t, err)

	assert.Empty(t, view.SelectedIDs)
	assert.Len(t, view.Jobs, 2)
}

func TestRetryReplacesJobByIdentity(t *testing.T) {
	jobs := []models.Job{failedJob(), failedJob()}
	svc := &fakePipeline{jobs: jobs}
	refresher := &fakeRefresher{}
	c := loadedController(t, svc, refresher)

	updated, err := c.Retry(context.Background(), jobs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.TriageStateRetrying, updated.TriageState)

	view := c.View()
	assert.Equal(t, models.TriageStateRetrying, view.Jobs[0].TriageState)
	assert.Equal(t, models.TriageStateOpen, view.Jobs[1].TriageState, "other rows must be untouched")
	assert.Equal(t, 1, refresher.count(), "retry must trigger a telemetry refresh")
}

func TestRetryKeepsSelection(t *testing.T) {
	jobs := []models.Job{failedJob(), failedJob()}
	svc := &fakePipeline{jobs: jobs}
	c := loadedController(t, svc, nil)

	c.SelectAll()
	_, err := c.Retry(context.Background(), jobs[0].ID)
	require.NoError(t, err)

	assert.Len(t, c.View().SelectedIDs, 2, "single actions must not clear the selection")
}

func TestPatchTriageStateRefreshesTelemetry(t *testing.T) {
	jobs := []models.Job{failedJob()}
	svc := &fakePipeline{jobs: jobs}
	refresher := &fakeRefresher{}
	c := loadedController(t, svc, refresher)

	resolved := models.TriageStateResolved
	_, err := c.Patch(context.Background(), jobs[0].ID, models.TriagePatch{TriageState: &resolved})
	require.NoError(t, err)
	assert.Equal(t, 1, refresher.count(), "triage-state transitions must refresh telemetry")

	tag := "vendor-issue"
	_, err = c.Patch(context.Background(), jobs[0].ID, models.TriagePatch{AddTag: &tag})
	require.NoError(t, err)
	assert.Equal(t, 1, refresher.count(), "tag edits must not refresh telemetry")
}

func TestToggleSelectUnknownJob(t *testing.T) {
	svc := &fakePipeline{jobs: []models.Job{failedJob()}}
	c := loadedController(t, svc, nil)

	_, err := c.ToggleSelect(uuid.New())
	assert.Error(t, err)
}

func TestBulkRetryPartialResult(t *testing.T) {
	jobs := []models.Job{failedJob(), failedJob(), failedJob()}
	svc := &fakePipeline{jobs: jobs}

	requeued := func(j models.Job) models.Job {
		j.Status = models.JobStatusQueued
		j.TriageState = models.TriageStateRetrying
		j.Attempt++
		return j
	}
	svc.bulkResult = &models.BulkRetryResult{
		RequestedCount: 3,
		Jobs:           []models.Job{requeued(jobs[0]), requeued(jobs[2])},
		Failures: []models.BulkRetryFailure{
			{JobID: jobs[1].ID, Reason: "attempt budget exhausted"},
		},
	}
	refresher := &fakeRefresher{}
	c := loadedController(t, svc, refresher)
	c.SelectAll()

	result, err := c.BulkRetry(context.Background())
	require.NoError(t, err)

	assert.Len(t, result.Jobs, 2)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, jobs[1].ID, result.Failures[0].JobID)

	view := c.View()
	assert.Equal(t, models.TriageStateRetrying, view.Jobs[0].TriageState)
	assert.Equal(t, 4, view.Jobs[0].Attempt, "returned row must replace the loaded one wholesale")
	assert.Equal(t, models.TriageStateOpen, view.Jobs[1].TriageState, "declined job must stay untouched")
	assert.Equal(t, models.TriageStateRetrying, view.Jobs[2].TriageState)

	assert.Len(t, view.SelectedIDs, 3, "selection survives until the next reload")
	assert.Equal(t, 1, refresher.count())

	view, err = c.Load(context.Background(), models.JobFilters{})
	require.NoError(t, err)
	assert.Empty(t, view.SelectedIDs, "reload clears the selection")
}

func TestBulkRetryWithEmptySelection(t *testing.T) {
	svc := &fakePipeline{jobs: []models.Job{failedJob()}}
	c := loadedController(t, svc, nil)

	_, err := c.BulkRetry(context.Background())
	assert.Error(t, err)
}

func TestBulkPatchAppliesToSelection(t *testing.T) {
	jobs := []models.Job{failedJob(), failedJob()}
	svc := &fakePipeline{jobs: jobs}
	c := loadedController(t, svc, &fakeRefresher{})
	c.SelectAll()

	ignored := models.TriageStateIgnored
	view, err := c.BulkPatch(context.Background(), models.TriagePatch{TriageState: &ignored})
	require.NoError(t, err)

	assert.Equal(t, 2, svc.patchCalls)
	assert.Equal(t, models.TriageStateIgnored, view.Jobs[0].TriageState)
	assert.Equal(t, models.TriageStateIgnored, view.Jobs[1].TriageState)
	assert.Len(t, view.SelectedIDs, 2, "bulk actions must not clear the selection")
}

func TestBulkPatchPartialFailure(t *testing.T) {
	jobs := []models.Job{failedJob(), failedJob()}
	svc := &fakePipeline{
		jobs:     jobs,
		patchErr: map[uuid.UUID]error{jobs[1].ID: errors.New("conflict")},
	}
	c := loadedController(t, svc, &fakeRefresher{})
	c.SelectAll()

	resolved := models.TriageStateResolved
	view, err := c.BulkPatch(context.Background(), models.TriagePatch{TriageState: &resolved})
	require.Error(t, err)

	assert.Equal(t, models.TriageStateResolved, view.Jobs[0].TriageState)
	assert.Equal(t, models.TriageStateOpen, view.Jobs[1].TriageState)
	assert.Len(t, view.SelectedIDs, 2, "selection survives a partial failure untouched")
}

func TestBulkPatchBlankTagRejected(t *testing.T) {
	jobs := []models.Job{failedJob()}
	svc := &fakePipeline{jobs: jobs}
	c := loadedController(t, svc, nil)
	c.SelectAll()

	blank := "   "
	_, err := c.BulkPatch(context.Background(), models.TriagePatch{AddTag: &blank})
	require.Error(t, err)
	assert.True(t, policy.IsFieldErrors(err))
	assert.Zero(t, svc.patchCalls, "validation failures must not reach the backend")
}

func TestPatchRejectsConflictingAssigneeFields(t *testing.T) {
	jobs := []models.Job{failedJob()}
	svc := &fakePipeline{jobs: jobs}
	c := loadedController(t, svc, nil)

	user := "ops@example.com"
	_, err := c.Patch(context.Background(), jobs[0].ID, models.TriagePatch{
		AssignedToUserID: &user,
		ClearAssignee:    true,
	})
	require.Error(t, err)
	assert.True(t, policy.IsFieldErrors(err))
}
