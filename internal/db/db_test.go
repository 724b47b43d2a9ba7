package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/MilonLemon/pnp-demo/internal/camera"
	"github.com/MilonLemon/pnp-demo/internal/geom"
	"github.com/MilonLemon/pnp-demo/internal/quality"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "poses.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_AppliesMigrationsAndPragmas(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	// Re-running is a no-op.
	require.NoError(t, db.MigrateUp())
}

func TestMigrateDown(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	require.NoError(t, db.MigrateDown())
	version, _, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	var n int
	require.NoError(t, db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='pose_frames'").Scan(&n))
	assert.Zero(t, n)
}

func TestIsSQLiteBusy(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"database is locked", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"SQLITE_BUSY", errors.New("SQLITE_BUSY"), true},
		{"other error", errors.New("some other error"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isSQLiteBusy(tt.err); got != tt.want {
				t.Errorf("isSQLiteBusy(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryOnBusy(t *testing.T) {
	busy := errors.New("database is locked (5) (SQLITE_BUSY)")

	t.Run("success after retry", func(t *testing.T) {
		calls := 0
		err := retryOnBusy(func() error {
			calls++
			if calls < 3 {
				return busy
			}
			return nil
		})
		if err != nil || calls != 3 {
			t.Errorf("err=%v calls=%d, want nil and 3", err, calls)
		}
	})

	t.Run("non-busy error fails immediately", func(t *testing.T) {
		calls := 0
		other := errors.New("constraint failed")
		err := retryOnBusy(func() error {
			calls++
			return other
		})
		if err != other || calls != 1 {
			t.Errorf("err=%v calls=%d, want %v and 1", err, calls, other)
		}
	})

	t.Run("max retries exceeded", func(t *testing.T) {
		calls := 0
		err := retryOnBusy(func() error {
			calls++
			return busy
		})
		if err == nil || calls != maxBusyRetries {
			t.Errorf("err=%v calls=%d, want busy and %d", err, calls, maxBusyRetries)
		}
	})
}

func testPose() camera.Pose {
	return camera.Pose{
		Rotation:    geom.RotationFromRodrigues(r3.Vec{X: 0.1, Y: 0.2, Z: -0.3}),
		Translation: r3.Vec{X: 0.5, Y: -0.25, Z: 7},
	}
}

func assertPoseNear(t *testing.T, want, got camera.Pose) {
	t.Helper()
	for i := range want.Rotation {
		assert.InDelta(t, want.Rotation[i], got.Rotation[i], 1e-12)
	}
	assert.Equal(t, want.Translation, got.Translation)
}

func TestPoseStore_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewPoseStore(openTestDB(t))

	sess, err := store.CreateSession(ctx, "replay", "iterative", map[string]int{"iterations": 500})
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)

	got, err := store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "replay", got.Name)
	assert.Equal(t, "iterative", got.Method)
	assert.JSONEq(t, `{"iterations":500}`, string(got.ParamsJSON))
	assert.Equal(t, sess.CreatedAt.UnixNano(), got.CreatedAt.UnixNano())

	raw := testPose()
	ts := time.Unix(1700000000, 125000000)
	frames := []FrameRecord{
		{
			SessionID: sess.ID, Frame: 0, Timestamp: ts, Matches: 40, Inliers: 32, Iterations: 9,
			InlierRatio: 80, Measured: true, RawPose: &raw, EstimatedPose: raw,
			RawError:      &quality.PoseError{Translation: 0.01, Rotation: 0.5},
			EstimateError: &quality.PoseError{Translation: 0.02, Rotation: 1.5},
		},
		{
			SessionID: sess.ID, Frame: 1, Timestamp: ts.Add(125 * time.Millisecond),
			EstimatedPose: camera.IdentityPose(), Error: "pnp: not enough correspondences",
		},
	}
	for _, f := range frames {
		require.NoError(t, store.RecordFrame(ctx, f))
	}

	list, err := store.ListFrames(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)

	first := list[0]
	assert.Equal(t, 40, first.Matches)
	assert.Equal(t, 32, first.Inliers)
	assert.Equal(t, 9, first.Iterations)
	assert.True(t, first.Measured)
	assert.Equal(t, ts.UnixNano(), first.Timestamp.UnixNano())
	require.NotNil(t, first.RawPose)
	assertPoseNear(t, raw, *first.RawPose)
	assertPoseNear(t, raw, first.EstimatedPose)
	assert.Equal(t, frames[0].RawError, first.RawError)
	assert.Equal(t, frames[0].EstimateError, first.EstimateError)
	assert.Empty(t, first.Error)

	second := list[1]
	assert.Nil(t, second.RawPose)
	assert.Nil(t, second.RawError)
	assert.False(t, second.Measured)
	assert.Equal(t, "pnp: not enough correspondences", second.Error)
	assertPoseNear(t, camera.IdentityPose(), second.EstimatedPose)

	// Duplicate frame numbers are rejected.
	assert.Error(t, store.RecordFrame(ctx, frames[0]))
}

func TestPoseStore_SessionStats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewPoseStore(openTestDB(t))
	sess, err := store.CreateSession(ctx, "stats", "p3p", nil)
	require.NoError(t, err)

	st, err := store.SessionStats(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionStats{}, st)

	raw := testPose()
	for i, e := range []float64{0.1, 0.3} {
		require.NoError(t, store.RecordFrame(ctx, FrameRecord{
			SessionID: sess.ID, Frame: i, Matches: 10, Inliers: 6 + 2*i, InlierRatio: float64(60 + 20*i),
			Measured: i == 1, RawPose: &raw, EstimatedPose: raw,
			EstimateError: &quality.PoseError{Translation: e, Rotation: 10 * e},
		}))
	}
	require.NoError(t, store.RecordFrame(ctx, FrameRecord{SessionID: sess.ID, Frame: 2, EstimatedPose: raw}))

	st, err = store.SessionStats(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Frames)
	assert.Equal(t, 2, st.Solved)
	assert.Equal(t, 1, st.Measured)
	assert.InDelta(t, 14.0/3, st.MeanInliers, 1e-12)
	assert.InDelta(t, 140.0/3, st.MeanInlierRatio, 1e-12)
	assert.True(t, st.HasTruth)
	assert.InDelta(t, 0.2, st.MeanTranslationError, 1e-12)
	assert.InDelta(t, 0.3, st.MaxTranslationError, 1e-12)
	assert.InDelta(t, 2.0, st.MeanRotationError, 1e-12)
	assert.InDelta(t, 3.0, st.MaxRotationError, 1e-12)

	_, err = store.SessionStats(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestPoseStore_FrameRequiresSession(t *testing.T) {
	t.Parallel()
	store := NewPoseStore(openTestDB(t))
	err := store.RecordFrame(context.Background(), FrameRecord{SessionID: "nope", EstimatedPose: camera.IdentityPose()})
	assert.Error(t, err)
}
