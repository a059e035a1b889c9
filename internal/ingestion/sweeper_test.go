package ingestion

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sweepRecordingRepo struct {
	*stubUploadRepo
	swept      int64
	lastCutoff time.Time
	lastMsg    string
}

func (s *sweepRecordingRepo) MarkStaleFailed(ctx context.Context, cutoff time.Time, message string) (int64, error) {
	s.lastCutoff = cutoff
	s.lastMsg = message
	return s.swept, nil
}

func TestSweepUsesConfiguredCutoff(t *testing.T) {
	repo := &sweepRecordingRepo{stubUploadRepo: newStubUploadRepo(), swept: 2}
	sweeper := NewSweeper(repo, zap.NewNop(), 15*time.Minute)

	before := time.Now().Add(-15 * time.Minute)
	require.NoError(t, sweeper.Sweep(context.Background()))
	after := time.Now().Add(-15 * time.Minute)

	assert.False(t, repo.lastCutoff.Before(before))
	assert.False(t, repo.lastCutoff.After(after))
	assert.Contains(t, repo.lastMsg, "processing stalled")
	assert.Contains(t, repo.lastMsg, "15m")
}

func TestSweeperSchedulesAndStops(t *testing.T) {
	repo := &sweepRecordingRepo{stubUploadRepo: newStubUploadRepo()}
	sweeper := NewSweeper(repo, zap.NewNop(), time.Minute)

	require.NoError(t, sweeper.Start("@every 1h"))
	sweeper.Stop()

	assert.Error(t, NewSweeper(repo, zap.NewNop(), time.Minute).Start("not a schedule"))
}
