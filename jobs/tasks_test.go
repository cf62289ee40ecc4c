package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type fakePurger struct {
	purged int64
	err    error
	calls  int
}

func (p *fakePurger) PurgeExpired(_ context.Context) (int64, error) {
	p.calls++
	return p.purged, p.err
}

func TestSweepExpiredHandler(t *testing.T) {
	purger := &fakePurger{purged: 3}
	handler := NewSweepExpiredHandler(purger, nil)

	task, err := NewSweepExpiredTask(SweepExpiredPayload{Reason: "scheduled"})
	require.NoError(t, err)
	require.Equal(t, TaskAuthzSweepExpired, task.Type())

	require.NoError(t, handler(context.Background(), task))
	require.Equal(t, 1, purger.calls)
}

func TestSweepExpiredHandlerPropagatesErrors(t *testing.T) {
	purger := &fakePurger{err: errors.New("db down")}
	handler := NewSweepExpiredHandler(purger, nil)

	task, err := NewSweepExpiredTask(SweepExpiredPayload{})
	require.NoError(t, err)
	require.Error(t, handler(context.Background(), task))
}

func TestSweepExpiredHandlerSkipsMalformedPayload(t *testing.T) {
	purger := &fakePurger{}
	handler := NewSweepExpiredHandler(purger, nil)

	err := handler(context.Background(), asynq.NewTask(TaskAuthzSweepExpired, []byte("{broken")))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Equal(t, 0, purger.calls)
}
