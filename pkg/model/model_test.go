package model

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/vigil/pkg/job"
)

func completedTraining(id string) job.Job {
	out := job.NewTrainingOutcome(job.TrainingOutcome{
		ModelID:     "transfer-model-42",
		Accuracy:    93.1,
		Epochs:      2,
		LossHistory: []job.EpochLoss{{Epoch: 1, Loss: 0.5}, {Epoch: 2, Loss: 0.4}},
	})
	return job.Job{ID: id, Kind: job.KindTraining, StrategyID: "transfer", Status: job.StatusCompleted, Progress: 100, Result: &out}
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus(" Active ")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, st)

	_, err = ParseStatus("retired")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestFromTraining(t *testing.T) {
	now := time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)

	m, err := FromTraining(completedTraining("job-1"), "", now)
	require.NoError(t, err)
	assert.Equal(t, "transfer-model-42", m.ID)
	assert.Equal(t, "transfer", m.Type)
	assert.Equal(t, "transfer model 2026-10-17 09:30", m.Name)
	assert.Equal(t, 93.1, m.Accuracy)
	assert.Equal(t, StatusActive, m.Status)
	assert.Equal(t, "job-1", m.JobID)
	assert.Equal(t, DefaultSizeMB, m.SizeMB)

	named, err := FromTraining(completedTraining("job-2"), "Lobby tuned", now)
	require.NoError(t, err)
	assert.Equal(t, "Lobby tuned", named.Name)

	failed := completedTraining("job-3")
	failed.Status = job.StatusFailed
	_, err = FromTraining(failed, "", now)
	assert.Error(t, err)

	detection := job.Job{ID: "job-4", Kind: job.KindDetection, Status: job.StatusCompleted}
	_, err = FromTraining(detection, "", now)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := Defaults()[0]
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Model)
	}{
		{"missing id", func(m *Model) { m.ID = " " }},
		{"missing type", func(m *Model) { m.Type = "" }},
		{"accuracy above 100", func(m *Model) { m.Accuracy = 101 }},
		{"bad status", func(m *Model) { m.Status = "retired" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := base
			tt.mutate(&m)
			assert.Error(t, m.Validate())
		})
	}
}

// storeContract runs the behaviour every Store implementation shares.
func storeContract(t *testing.T, st Store) {
	ctx := context.Background()

	list, err := st.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 4)
	assert.Equal(t, "model1", list[0].ID)
	assert.Equal(t, "model4", list[3].ID)

	trained, err := FromTraining(completedTraining("job-9"), "", time.Now())
	require.NoError(t, err)
	require.NoError(t, st.Add(ctx, trained))
	assert.ErrorIs(t, st.Add(ctx, trained), ErrDuplicate)

	got, err := st.Get(ctx, trained.ID)
	require.NoError(t, err)
	assert.Equal(t, "job-9", got.JobID)
	assert.Equal(t, StatusActive, got.Status)

	_, err = st.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrModelNotFound)

	updated, err := st.UpdateStatus(ctx, "model1", StatusInactive)
	require.NoError(t, err)
	assert.Equal(t, StatusInactive, updated.Status)
	assert.True(t, updated.UpdatedAt.After(Defaults()[0].UpdatedAt))

	_, err = st.UpdateStatus(ctx, "nope", StatusActive)
	assert.ErrorIs(t, err, ErrModelNotFound)
	_, err = st.UpdateStatus(ctx, "model1", "retired")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	active, err := Active(ctx, st, "violence")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "model2", active[0].ID)

	all, err := Active(ctx, st, "")
	require.NoError(t, err)
	assert.Len(t, all, 3, "model2, model4 and the trained model")
}

func TestMemoryStore(t *testing.T) {
	st, err := NewMemoryStore(Defaults()...)
	require.NoError(t, err)
	storeContract(t, st)

	_, err = NewMemoryStore(Defaults()[0], Defaults()[0])
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "models.db")

	st, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, st.Seed(ctx, Defaults()))
	require.NoError(t, st.Ping(ctx))
	storeContract(t, st)
	require.NoError(t, st.Close())

	// Reopening keeps state and seeding again is a no-op.
	st, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer func() { _ = st.Close() }()
	require.NoError(t, st.Seed(ctx, Defaults()))

	list, err := st.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 5)
	m1, err := st.Get(ctx, "model1")
	require.NoError(t, err)
	assert.Equal(t, StatusInactive, m1.Status)
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	_, err := OpenSQLite(context.Background(), "")
	assert.Error(t, err)
}
