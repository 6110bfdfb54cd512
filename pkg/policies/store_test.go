package policies

import (
	"context"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/tansy/pkg/models"
	"github.com/Ramsey-B/tansy/pkg/policy"
)

type fakeRepo struct {
	policies    map[models.JobType]models.RetryPolicy
	updateCalls int
	updateErr   error
	entered     chan struct{}
	block       chan struct{}
}

func newFakeRepo() *fakeRepo {
	policies := make(map[models.JobType]models.RetryPolicy)
	for _, jobType := range models.AllJobTypes() {
		def := models.FactoryDefaultPolicy(jobType)
		policies[jobType] = models.RetryPolicy{
			JobType:                jobType,
			MaxAttempts:            def.MaxAttempts,
			BackoffScheduleSeconds: pq.Int64Array(def.BackoffScheduleSeconds),
			JitterRatio:            def.JitterRatio,
			Enabled:                def.Enabled,
		}
	}
	return &fakeRepo{policies: policies}
}

func (f *fakeRepo) List(ctx context.Context) ([]models.RetryPolicy, error) {
	out := make([]models.RetryPolicy, 0, len(f.policies))
	for _, jobType := range models.AllJobTypes() {
		out = append(out, f.policies[jobType])
	}
	return out, nil
}

func (f *fakeRepo) GetByJobType(ctx context.Context, jobType models.JobType) (*models.RetryPolicy, error) {
	p := f.policies[jobType]
	return &p, nil
}

func (f *fakeRepo) Update(ctx context.Context, jobType models.JobType, update models.PolicyUpdate, actorID string) (*models.RetryPolicy, error) {
	f.updateCalls++
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	p := models.RetryPolicy{
		JobType:                jobType,
		MaxAttempts:            update.MaxAttempts,
		BackoffScheduleSeconds: pq.Int64Array(update.BackoffScheduleSeconds),
		JitterRatio:            update.JitterRatio,
		Enabled:                update.Enabled,
	}
	f.policies[jobType] = p
	return &p, nil
}

func (f *fakeRepo) Reset(ctx context.Context, jobType models.JobType, actorID string) (*models.RetryPolicy, error) {
	def := models.FactoryDefaultPolicy(jobType)
	return f.Update(ctx, jobType, models.PolicyUpdate{
		MaxAttempts:            def.MaxAttempts,
		BackoffScheduleSeconds: def.BackoffScheduleSeconds,
		JitterRatio:            def.JitterRatio,
		Enabled:                def.Enabled,
	}, actorID)
}

func (f *fakeRepo) ResetAll(ctx context.Context, actorID string) ([]models.RetryPolicy, error) {
	out := make([]models.RetryPolicy, 0, len(f.policies))
	for _, jobType := range models.AllJobTypes() {
		p, err := f.Reset(ctx, jobType, actorID)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakeRepo) ApplySnapshot(ctx context.Context, jobType models.JobType, snapshot models.RetryPolicySnapshot, presetKey *string, actorID string, note *string) (*models.RetryPolicy, error) {
	return f.Update(ctx, jobType, models.PolicyUpdate{
		MaxAttempts:            snapshot.MaxAttempts,
		BackoffScheduleSeconds: snapshot.BackoffScheduleSeconds,
		JitterRatio:            snapshot.JitterRatio,
		Enabled:                snapshot.Enabled,
	}, actorID)
}

func (f *fakeRepo) MarkKnownGood(ctx context.Context, jobType models.JobType, actorID string) (*models.RetryPolicySnapshot, error) {
	p := f.policies[jobType]
	snap := p.Snapshot()
	return &snap, nil
}

func testStore(t *testing.T, repo Repo) *Store {
	t.Helper()
	store := NewStore(repo, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
	require.NoError(t, store.Load(context.Background()))
	return store
}

func TestLoadPopulatesCacheInDisplayOrder(t *testing.T) {
	store := testStore(t, newFakeRepo())

	policies := store.Policies()
	require.Len(t, policies, len(models.AllJobTypes()))
	for i, jobType := range models.AllJobTypes() {
		assert.Equal(t, jobType, policies[i].JobType)
	}
}

func TestSaveValidDraft(t *testing.T) {
	repo := newFakeRepo()
	store := testStore(t, repo)

	var fired []Mutation
	store.OnMutation(func(ctx context.Context, m Mutation) { fired = append(fired, m) })

	draft, err := store.BeginDraft(models.JobTypeIngest)
	require.NoError(t, err)
	draft.MaxAttempts = 8
	draft.ScheduleText = "60, 300"
	store.UpdateDraft(models.JobTypeIngest, draft)

	updated, err := store.Save(context.Background(), models.JobTypeIngest, "ops@example.com")
	require.NoError(t, err)

	assert.Equal(t, 8, updated.MaxAttempts)
	assert.Equal(t, pq.Int64Array{60, 300}, updated.BackoffScheduleSeconds)
	assert.Equal(t, 1, repo.updateCalls)

	cached, ok := store.Policy(models.JobTypeIngest)
	require.True(t, ok)
	assert.Equal(t, 8, cached.MaxAttempts)

	_, hasDraft := store.Draft(models.JobTypeIngest)
	assert.False(t, hasDraft, "draft should be cleared after a successful save")

	require.Len(t, fired, 1)
	assert.Equal(t, models.PolicyActionUpdate, fired[0].Action)
	assert.Equal(t, 5, fired[0].Before.MaxAttempts)
	assert.Equal(t, 8, fired[0].After.MaxAttempts)
}

func TestSaveInvalidScheduleBlocksSave(t *testing.T) {
	repo := newFakeRepo()
	store := testStore(t, repo)

	draft, err := store.BeginDraft(models.JobTypeIngest)
	require.NoError(t, err)
	draft.ScheduleText = "abc,0,-5"
	store.UpdateDraft(models.JobTypeIngest, draft)

	_, err = store.Save(context.Background(), models.JobTypeIngest, "")
	require.Error(t, err)
	assert.True(t, policy.IsFieldErrors(err))
	assert.Zero(t, repo.updateCalls, "invalid draft must not reach the repository")

	_, hasDraft := store.Draft(models.JobTypeIngest)
	assert.True(t, hasDraft, "failed validation keeps the draft for correction")
}

func TestSaveWithoutDraftConflicts(t *testing.T) {
	store := testStore(t, newFakeRepo())

	_, err := store.Save(context.Background(), models.JobTypeIngest, "")
	assert.Error(t, err)
}

func TestSaveGuardsAgainstConcurrentSaves(t *testing.T) {
	repo := newFakeRepo()
	repo.entered = make(chan struct{}, 1)
	repo.block = make(chan struct{})
	store := testStore(t, repo)

	draft, err := store.BeginDraft(models.JobTypeIngest)
	require.NoError(t, err)
	store.UpdateDraft(models.JobTypeIngest, draft)

	done := make(chan error, 1)
	go func() {
		_, err := store.Save(context.Background(), models.JobTypeIngest, "")
		done <- err
	}()

	// Wait until the first save is inside the repository call.
	<-repo.entered

	_, err = store.Save(context.Background(), models.JobTypeIngest, "")
	assert.Error(t, err, "second save for the same job type must be rejected")

	close(repo.block)
	require.NoError(t, <-done)
}

func TestLoadDiscardsDrafts(t *testing.T) {
	store := testStore(t, newFakeRepo())

	_, err := store.BeginDraft(models.JobTypeIngest)
	require.NoError(t, err)

	require.NoError(t, store.Load(context.Background()))
	_, hasDraft := store.Draft(models.JobTypeIngest)
	assert.False(t, hasDraft)
}

func TestResetRestoresFactoryDefault(t *testing.T) {
	repo := newFakeRepo()
	store := testStore(t, repo)

	draft, err := store.BeginDraft(models.JobTypeEditRender)
	require.NoError(t, err)
	draft.MaxAttempts = 12
	store.UpdateDraft(models.JobTypeEditRender, draft)
	_, err = store.Save(context.Background(), models.JobTypeEditRender, "")
	require.NoError(t, err)

	reset, err := store.Reset(context.Background(), models.JobTypeEditRender, "")
	require.NoError(t, err)
	assert.Equal(t, 5, reset.MaxAttempts)

	cached, _ := store.Policy(models.JobTypeEditRender)
	assert.Equal(t, 5, cached.MaxAttempts)
}

func TestApplyRollbackFiresHookWithPresetKey(t *testing.T) {
	store := testStore(t, newFakeRepo())

	var fired []Mutation
	store.OnMutation(func(ctx context.Context, m Mutation) { fired = append(fired, m) })

	presetKey := string(models.PresetKnownGood)
	snapshot := models.RetryPolicySnapshot{
		MaxAttempts:            3,
		BackoffScheduleSeconds: []int64{10, 60},
		JitterRatio:            0.05,
		Enabled:                true,
	}

	updated, err := store.ApplyRollback(context.Background(), models.JobTypeAITagging, snapshot, &presetKey, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, updated.MaxAttempts)

	require.Len(t, fired, 1)
	assert.Equal(t, models.PolicyActionRollback, fired[0].Action)
	require.NotNil(t, fired[0].PresetKey)
	assert.Equal(t, presetKey, *fired[0].PresetKey)
}
