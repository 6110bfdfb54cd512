package rollback

import (
	"context"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/tansy/pkg/database"
	"github.com/Ramsey-B/tansy/pkg/models"
)

type fakeApplier struct {
	policies   map[models.JobType]models.RetryPolicy
	applyCalls int
	applyErr   error
	entered    chan struct{}
	block      chan struct{}
}

func (f *fakeApplier) Policy(jobType models.JobType) (models.RetryPolicy, bool) {
	p, ok := f.policies[jobType]
	return p, ok
}

func (f *fakeApplier) ApplyRollback(ctx context.Context, jobType models.JobType, snapshot models.RetryPolicySnapshot, presetKey *string, actorID string, note *string) (*models.RetryPolicy, error) {
	f.applyCalls++
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	if f.applyErr != nil {
		return nil, f.applyErr
	}
	p := models.RetryPolicy{
		JobType:                jobType,
		MaxAttempts:            snapshot.MaxAttempts,
		BackoffScheduleSeconds: pq.Int64Array(snapshot.BackoffScheduleSeconds),
		JitterRatio:            snapshot.JitterRatio,
		Enabled:                snapshot.Enabled,
	}
	f.policies[jobType] = p
	return &p, nil
}

type fakeResolver struct {
	preset models.RetryPolicyPreset
	err    error
}

func (f *fakeResolver) Resolve(ctx context.Context, jobType models.JobType, key models.PresetKey) (models.RetryPolicyPreset, error) {
	if f.err != nil {
		return models.RetryPolicyPreset{}, f.err
	}
	return f.preset, nil
}

type fakeEvents struct {
	event *models.RetryPolicyEvent
	err   error
}

func (f *fakeEvents) GetByID(ctx context.Context, id uuid.UUID) (*models.RetryPolicyEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.event, nil
}

func currentPolicy() models.RetryPolicy {
	return models.RetryPolicy{
		JobType:                models.JobTypeIngest,
		MaxAttempts:            8,
		BackoffScheduleSeconds: pq.Int64Array{60, 300},
		JitterRatio:            0.2,
		Enabled:                true,
	}
}

func factoryPreset() models.RetryPolicyPreset {
	return models.RetryPolicyPreset{
		PresetKey: models.PresetFactoryDefault,
		Label:     "Factory default",
		Policy:    models.FactoryDefaultPolicy(models.JobTypeIngest),
	}
}

func newTestController(applier *fakeApplier, resolver *fakeResolver, events *fakeEvents) *Controller {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return NewController(applier, resolver, events, logger)
}

func stageFactory(t *testing.T, c *Controller) View {
	t.Helper()
	key := models.PresetFactoryDefault
	view, err := c.Stage(context.Background(), models.JobTypeIngest, models.RollbackRequest{PresetKey: &key})
	require.NoError(t, err)
	return view
}

func TestStagePresetBuildsPreview(t *testing.T) {
	applier := &fakeApplier{policies: map[models.JobType]models.RetryPolicy{models.JobTypeIngest: currentPolicy()}}
	c := newTestController(applier, &fakeResolver{preset: factoryPreset()}, &fakeEvents{})

	view := stageFactory(t, c)

	assert.Equal(t, StatePreviewing, view.State)
	require.NotNil(t, view.Preview)
	assert.Equal(t, "Factory default", view.Preview.TargetLabel)
	assert.False(t, view.Preview.NoChange)
	assert.NotEmpty(t, view.Preview.Diff)
}

func TestStageRejectsAmbiguousTarget(t *testing.T) {
	applier := &fakeApplier{policies: map[models.JobType]models.RetryPolicy{models.JobTypeIngest: currentPolicy()}}
	c := newTestController(applier, &fakeResolver{preset: factoryPreset()}, &fakeEvents{})

	key := models.PresetFactoryDefault
	id := uuid.New()

	_, err := c.Stage(context.Background(), models.JobTypeIngest, models.RollbackRequest{})
	assert.Error(t, err)
	_, err = c.Stage(context.Background(), models.JobTypeIngest, models.RollbackRequest{PresetKey: &key, EventID: &id})
	assert.Error(t, err)
}

func TestStageEventTargetUsesAfterSnapshot(t *testing.T) {
	after := models.RetryPolicySnapshot{MaxAttempts: 2, BackoffScheduleSeconds: []int64{15}, JitterRatio: 0, Enabled: false}
	event := &models.RetryPolicyEvent{
		ID:          uuid.New(),
		JobType:     models.JobTypeIngest,
		Action:      models.PolicyActionUpdate,
		AfterPolicy: database.NewJSONB(after),
	}
	applier := &fakeApplier{policies: map[models.JobType]models.RetryPolicy{models.JobTypeIngest: currentPolicy()}}
	c := newTestController(applier, &fakeResolver{}, &fakeEvents{event: event})

	view, err := c.Stage(context.Background(), models.JobTypeIngest, models.RollbackRequest{EventID: &event.ID})
	require.NoError(t, err)

	require.NotNil(t, view.Preview)
	assert.True(t, view.Preview.Resolved.Equal(after))
}

func TestStageRejectsEventFromOtherJobType(t *testing.T) {
	event := &models.RetryPolicyEvent{ID: uuid.New(), JobType: models.JobTypeAITagging}
	applier := &fakeApplier{policies: map[models.JobType]models.RetryPolicy{models.JobTypeIngest: currentPolicy()}}
	c := newTestController(applier, &fakeResolver{}, &fakeEvents{event: event})

	_, err := c.Stage(context.Background(), models.JobTypeIngest, models.RollbackRequest{EventID: &event.ID})
	assert.Error(t, err)
}

func TestApplyWritesResolvedSnapshot(t *testing.T) {
	applier := &fakeApplier{policies: map[models.JobType]models.RetryPolicy{models.JobTypeIngest: currentPolicy()}}
	c := newTestController(applier, &fakeResolver{preset: factoryPreset()}, &fakeEvents{})
	stageFactory(t, c)

	view, err := c.Apply(context.Background(), "ops@example.com")
	require.NoError(t, err)

	assert.Equal(t, StateIdle, view.State)
	assert.Nil(t, view.Preview)
	assert.Equal(t, 1, applier.applyCalls)
	assert.Equal(t, 5, applier.policies[models.JobTypeIngest].MaxAttempts)
}

func TestApplyIdenticalTargetIsNoOp(t *testing.T) {
	def := models.FactoryDefaultPolicy(models.JobTypeIngest)
	applier := &fakeApplier{policies: map[models.JobType]models.RetryPolicy{
		models.JobTypeIngest: {
			JobType:                models.JobTypeIngest,
			MaxAttempts:            def.MaxAttempts,
			BackoffScheduleSeconds: pq.Int64Array(def.BackoffScheduleSeconds),
			JitterRatio:            def.JitterRatio,
			Enabled:                def.Enabled,
		},
	}}
	c := newTestController(applier, &fakeResolver{preset: factoryPreset()}, &fakeEvents{})

	view := stageFactory(t, c)
	require.NotNil(t, view.Preview)
	assert.True(t, view.Preview.NoChange)

	view, err := c.Apply(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, StateIdle, view.State)
	assert.Zero(t, applier.applyCalls, "a target identical to the current policy must not be written")
}

func TestApplyFailureKeepsPreviewStaged(t *testing.T) {
	applier := &fakeApplier{
		policies: map[models.JobType]models.RetryPolicy{models.JobTypeIngest: currentPolicy()},
		applyErr: errors.New("connection refused"),
	}
	c := newTestController(applier, &fakeResolver{preset: factoryPreset()}, &fakeEvents{})
	stageFactory(t, c)

	view, err := c.Apply(context.Background(), "")
	require.Error(t, err)

	assert.Equal(t, StatePreviewing, view.State)
	require.NotNil(t, view.Preview, "failed apply keeps the staged preview for retry")
}

func TestApplyWithoutPreviewConflicts(t *testing.T) {
	applier := &fakeApplier{policies: map[models.JobType]models.RetryPolicy{models.JobTypeIngest: currentPolicy()}}
	c := newTestController(applier, &fakeResolver{preset: factoryPreset()}, &fakeEvents{})

	_, err := c.Apply(context.Background(), "")
	assert.Error(t, err)
}

func TestCancelClearsPreview(t *testing.T) {
	applier := &fakeApplier{policies: map[models.JobType]models.RetryPolicy{models.JobTypeIngest: currentPolicy()}}
	c := newTestController(applier, &fakeResolver{preset: factoryPreset()}, &fakeEvents{})
	stageFactory(t, c)

	view, err := c.Cancel()
	require.NoError(t, err)

	assert.Equal(t, StateIdle, view.State)
	assert.Nil(t, view.Preview)
}

func TestCancelDuringApplyIsRejected(t *testing.T) {
	applier := &fakeApplier{
		policies: map[models.JobType]models.RetryPolicy{models.JobTypeIngest: currentPolicy()},
		entered:  make(chan struct{}, 1),
		block:    make(chan struct{}),
	}
	c := newTestController(applier, &fakeResolver{preset: factoryPreset()}, &fakeEvents{})
	stageFactory(t, c)

	done := make(chan error, 1)
	go func() {
		_, err := c.Apply(context.Background(), "")
		done <- err
	}()
	<-applier.entered

	_, err := c.Cancel()
	assert.Error(t, err, "cancel mid-apply must be rejected")

	close(applier.block)
	require.NoError(t, <-done)
}
