package redis

import (
	"context"
	"testing"
	"time"

	"github.com/aescanero/dagflow/pkg/domain"
	"github.com/aescanero/dagflow/pkg/ports"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var _ ports.RunStorage = (*RunStorage)(nil)

func newStorage(t *testing.T, ttl time.Duration) (*RunStorage, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRunStorage(client, ttl, zap.NewNop()), mr
}

func TestRunStorage_SaveAndGet(t *testing.T) {
	s, mr := newStorage(t, time.Hour)
	ctx := context.Background()

	state := &domain.RunState{
		RunID:       "r1",
		Status:      domain.RunStatusCompleted,
		Inputs:      map[string]any{"name": "ada"},
		SubmittedAt: time.Now().UTC().Truncate(time.Millisecond),
		Result: &domain.RunResult{
			RunID: "r1",
			Nodes: map[string]*domain.NodeExecutionResult{
				"end": {NodeID: "end", Status: domain.NodeStatusCompleted, Outputs: map[string]any{"value": "Hello World"}},
			},
		},
	}
	require.NoError(t, s.SaveRun(ctx, state))
	assert.True(t, mr.Exists("dagflow:run:r1"))
	assert.Equal(t, time.Hour, mr.TTL("dagflow:run:r1"))

	got, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, got.Status)
	assert.True(t, state.SubmittedAt.Equal(got.SubmittedAt))
	v, ok := got.Result.Output("end", "value")
	require.True(t, ok)
	assert.Equal(t, "Hello World", v)

	_, err = s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestRunStorage_ListAndDelete(t *testing.T) {
	s, mr := newStorage(t, 0)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.SaveRun(ctx, &domain.RunState{RunID: "old", SubmittedAt: now.Add(-time.Hour)}))
	require.NoError(t, s.SaveRun(ctx, &domain.RunState{RunID: "new", SubmittedAt: now}))
	require.NoError(t, mr.Set("dagflow:run:broken", "{"))
	require.NoError(t, mr.Set("unrelated", "x"))

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "new", runs[0].RunID)
	assert.Equal(t, "old", runs[1].RunID)

	require.NoError(t, s.DeleteRun(ctx, "old"))
	_, err = s.GetRun(ctx, "old")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}
