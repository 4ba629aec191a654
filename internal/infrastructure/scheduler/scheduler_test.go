package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	runs atomic.Int32
	err  error
}

func (j *countingJob) Name() string { return "counting" }

func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("missing deadline")
	}
	return j.err
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(zerolog.Nop(), time.Second)
	job := &countingJob{}
	require.NoError(t, s.RunNow(job))
	assert.Equal(t, int32(1), job.runs.Load())

	job.err = errors.New("boom")
	assert.EqualError(t, s.RunNow(job), "boom")
}

func TestScheduler_AddJobRejectsBadSpec(t *testing.T) {
	s := New(zerolog.Nop(), time.Second)
	assert.Error(t, s.AddJob("not a schedule", &countingJob{}))
}

func TestScheduler_FiresOnSchedule(t *testing.T) {
	s := New(zerolog.Nop(), time.Second)
	job := &countingJob{}
	require.NoError(t, s.AddJob("@every 1s", job))
	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return job.runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
}
