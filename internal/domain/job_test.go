package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validJob() *Job {
	return &Job{
		ID:         uuid.New(),
		ImageID:    uuid.NewString(),
		TemplateID: "enhance",
		Params:     Params{Prompt: "enhance", Strength: 0.5, Resolution: 1024, Quality: QualityStandard},
		Status:     JobStatusPending,
		CreatedAt:  time.Now(),
		MaxRetries: DefaultMaxRetries,
	}
}

func TestJobValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(j *Job)
		wantErr error
	}{
		{name: "valid", mutate: func(j *Job) {}},
		{name: "empty image", mutate: func(j *Job) { j.ImageID = " " }, wantErr: ErrEmptyImageID},
		{name: "empty template", mutate: func(j *Job) { j.TemplateID = "" }, wantErr: ErrEmptyTemplateID},
		{name: "bad status", mutate: func(j *Job) { j.Status = "queued" }, wantErr: ErrInvalidStatus},
		{name: "progress over 100", mutate: func(j *Job) { j.Progress = 101 }, wantErr: ErrInvalidProgress},
		{
			name: "result and error",
			mutate: func(j *Job) {
				msg := "boom"
				j.Error = &msg
				j.Result = &JobResult{OutputPath: "x"}
			},
			wantErr: ErrResultAndError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := validJob()
			tt.mutate(j)
			err := j.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
			assert.Contains(t, err.Error(), tt.wantErr.Error())
		})
	}
}

func TestJobTransitions(t *testing.T) {
	t.Parallel()

	j := validJob()
	now := time.Now()

	j.MarkProcessing(now)
	assert.Equal(t, JobStatusProcessing, j.Status)
	require.NotNil(t, j.StartedAt)
	assert.Nil(t, j.Result)
	assert.Nil(t, j.Error)

	j.MarkCompleted(now, JobResult{OutputPath: "out.png"}, 0.02)
	assert.Equal(t, JobStatusCompleted, j.Status)
	assert.Equal(t, 100, j.Progress)
	assert.Nil(t, j.Error)
	assert.InDelta(t, 0.02, j.Cost, 1e-9)
	assert.NoError(t, j.Validate())

	j.MarkFailed(now, "")
	assert.Equal(t, JobStatusFailed, j.Status)
	assert.Nil(t, j.Result)
	assert.Equal(t, "unknown error", j.ErrorMessage())
	assert.NoError(t, j.Validate())

	j.MarkPending()
	assert.Equal(t, JobStatusPending, j.Status)
	assert.Nil(t, j.Error)
	assert.Nil(t, j.CompletedAt)
}

func TestJobClone(t *testing.T) {
	t.Parallel()

	j := validJob()
	j.MarkFailed(time.Now(), "boom")

	c := j.Clone()
	*c.Error = "changed"
	assert.Equal(t, "boom", j.ErrorMessage())
	assert.Nil(t, (*Job)(nil).Clone())
}

func TestBefore(t *testing.T) {
	t.Parallel()

	base := time.Now()
	low := &Job{ID: uuid.New(), Priority: 1, CreatedAt: base}
	high := &Job{ID: uuid.New(), Priority: 5, CreatedAt: base.Add(time.Second)}
	older := &Job{ID: uuid.New(), Priority: 1, CreatedAt: base.Add(-time.Second)}

	assert.True(t, Before(high, low))
	assert.False(t, Before(low, high))
	assert.True(t, Before(older, low))
}

func TestParseJobStatus(t *testing.T) {
	t.Parallel()

	s, err := ParseJobStatus(" Completed ")
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, s)
	assert.True(t, s.Terminal())
	assert.False(t, JobStatusRetrying.Terminal())

	_, err = ParseJobStatus("nope")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestParamsValidate(t *testing.T) {
	t.Parallel()

	p := Params{Prompt: "x", Strength: 0.4}.WithDefaults()
	assert.Equal(t, DefaultResolution, p.Resolution)
	assert.Equal(t, QualityStandard, p.Quality)
	assert.NoError(t, p.Validate())

	p.Strength = 1.5
	assert.ErrorIs(t, p.Validate(), ErrValidation)

	p.Strength = 0.4
	p.Resolution = 10
	assert.ErrorIs(t, p.Validate(), ErrValidation)

	p.Resolution = 1024
	p.Quality = "ultra"
	assert.ErrorIs(t, p.Validate(), ErrValidation)
}
