package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/MilonLemon/pnp-demo/internal/camera"
	"github.com/MilonLemon/pnp-demo/internal/geom"
	"github.com/MilonLemon/pnp-demo/internal/quality"
)

// ErrSessionNotFound is returned for an unknown session ID.
var ErrSessionNotFound = errors.New("db: session not found")

// Session is one tracking run.
type Session struct {
	ID         string
	Name       string
	Method     string
	ParamsJSON json.RawMessage
	CreatedAt  time.Time
}

// FrameRecord is the stored outcome of one frame.
type FrameRecord struct {
	SessionID   string
	Frame       int
	Timestamp   time.Time
	Matches     int
	Inliers     int
	Iterations  int
	InlierRatio float64
	Measured    bool

	RawPose       *camera.Pose
	EstimatedPose camera.Pose
	RawError      *quality.PoseError
	EstimateError *quality.PoseError
	Error         string
}

// SessionStats aggregates the frames of one session.
type SessionStats struct {
	Frames          int
	Solved          int
	Measured        int
	MeanInliers     float64
	MeanInlierRatio float64
	// HasTruth is false when no frame carried a ground-truth error, in which
	// case the error fields are zero.
	HasTruth             bool
	MeanTranslationError float64
	MaxTranslationError  float64
	MeanRotationError    float64
	MaxRotationError     float64
}

// PoseStore persists sessions and frames.
type PoseStore struct {
	db *DB
}

// NewPoseStore returns a store over db.
func NewPoseStore(db *DB) *PoseStore {
	return &PoseStore{db: db}
}

// CreateSession inserts a new session with a generated ID. params, if
// non-nil, is stored as JSON.
func (s *PoseStore) CreateSession(ctx context.Context, name, method string, params any) (Session, error) {
	sess := Session{
		ID:        uuid.New().String(),
		Name:      name,
		Method:    method,
		CreatedAt: time.Now(),
	}
	var paramsStr interface{}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return Session{}, fmt.Errorf("marshal session params: %w", err)
		}
		sess.ParamsJSON = b
		paramsStr = string(b)
	}
	err := retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO pose_sessions (session_id, name, method, params_json, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			sess.ID, sess.Name, sess.Method, paramsStr, sess.CreatedAt.UnixNano())
		return err
	})
	if err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// GetSession returns the session with id.
func (s *PoseStore) GetSession(ctx context.Context, id string) (Session, error) {
	var (
		sess      Session
		paramsStr sql.NullString
		created   int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, name, method, params_json, created_at
		FROM pose_sessions WHERE session_id = ?`, id).
		Scan(&sess.ID, &sess.Name, &sess.Method, &paramsStr, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return Session{}, fmt.Errorf("scan session: %w", err)
	}
	if paramsStr.Valid {
		sess.ParamsJSON = json.RawMessage(paramsStr.String)
	}
	sess.CreatedAt = time.Unix(0, created)
	return sess, nil
}

// poseColumns flattens a pose to translation plus axis-angle rotation.
func poseColumns(p camera.Pose) [6]float64 {
	w := p.Rotation.Rodrigues()
	return [6]float64{p.Translation.X, p.Translation.Y, p.Translation.Z, w.X, w.Y, w.Z}
}

func poseFromColumns(c [6]float64) camera.Pose {
	return camera.Pose{
		Rotation:    geom.RotationFromRodrigues(r3.Vec{X: c[3], Y: c[4], Z: c[5]}),
		Translation: r3.Vec{X: c[0], Y: c[1], Z: c[2]},
	}
}

// RecordFrame inserts one frame of a session.
func (s *PoseStore) RecordFrame(ctx context.Context, r FrameRecord) error {
	var raw [6]interface{}
	if r.RawPose != nil {
		for i, v := range poseColumns(*r.RawPose) {
			raw[i] = v
		}
	}
	est := poseColumns(r.EstimatedPose)
	var rawT, rawR, estT, estR interface{}
	if r.RawError != nil {
		rawT, rawR = r.RawError.Translation, r.RawError.Rotation
	}
	if r.EstimateError != nil {
		estT, estR = r.EstimateError.Translation, r.EstimateError.Rotation
	}
	var errStr interface{}
	if r.Error != "" {
		errStr = r.Error
	}

	err := retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO pose_frames (
				session_id, frame, timestamp_ns, matches, inliers, iterations, inlier_ratio, measured,
				raw_tx, raw_ty, raw_tz, raw_rx, raw_ry, raw_rz,
				est_tx, est_ty, est_tz, est_rx, est_ry, est_rz,
				raw_translation_error, raw_rotation_error, est_translation_error, est_rotation_error,
				error
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.SessionID, r.Frame, r.Timestamp.UnixNano(), r.Matches, r.Inliers, r.Iterations, r.InlierRatio, r.Measured,
			raw[0], raw[1], raw[2], raw[3], raw[4], raw[5],
			est[0], est[1], est[2], est[3], est[4], est[5],
			rawT, rawR, estT, estR,
			errStr,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert frame %d: %w", r.Frame, err)
	}
	return nil
}

// ListFrames returns the frames of a session in frame order.
func (s *PoseStore) ListFrames(ctx context.Context, sessionID string) ([]FrameRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT frame, timestamp_ns, matches, inliers, iterations, inlier_ratio, measured,
		       raw_tx, raw_ty, raw_tz, raw_rx, raw_ry, raw_rz,
		       est_tx, est_ty, est_tz, est_rx, est_ry, est_rz,
		       raw_translation_error, raw_rotation_error, est_translation_error, est_rotation_error,
		       error
		FROM pose_frames
		WHERE session_id = ?
		ORDER BY frame`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query frames: %w", err)
	}
	defer rows.Close()

	var out []FrameRecord
	for rows.Next() {
		var (
			r      = FrameRecord{SessionID: sessionID}
			ts     int64
			raw    [6]sql.NullFloat64
			est    [6]float64
			errs   [4]sql.NullFloat64
			errStr sql.NullString
		)
		if err := rows.Scan(
			&r.Frame, &ts, &r.Matches, &r.Inliers, &r.Iterations, &r.InlierRatio, &r.Measured,
			&raw[0], &raw[1], &raw[2], &raw[3], &raw[4], &raw[5],
			&est[0], &est[1], &est[2], &est[3], &est[4], &est[5],
			&errs[0], &errs[1], &errs[2], &errs[3],
			&errStr,
		); err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		r.Timestamp = time.Unix(0, ts)
		if raw[0].Valid {
			var c [6]float64
			for i := range raw {
				c[i] = raw[i].Float64
			}
			p := poseFromColumns(c)
			r.RawPose = &p
		}
		r.EstimatedPose = poseFromColumns(est)
		if errs[0].Valid && errs[1].Valid {
			r.RawError = &quality.PoseError{Translation: errs[0].Float64, Rotation: errs[1].Float64}
		}
		if errs[2].Valid && errs[3].Valid {
			r.EstimateError = &quality.PoseError{Translation: errs[2].Float64, Rotation: errs[3].Float64}
		}
		r.Error = errStr.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// SessionStats aggregates the stored frames of a session. Errors are taken
// from the estimated pose.
func (s *PoseStore) SessionStats(ctx context.Context, sessionID string) (SessionStats, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return SessionStats{}, err
	}
	var (
		st                       SessionStats
		meanInl, meanRatio       sql.NullFloat64
		meanT, maxT, meanR, maxR sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(raw_tx IS NOT NULL), 0),
		       COALESCE(SUM(measured), 0),
		       AVG(inliers), AVG(inlier_ratio),
		       AVG(est_translation_error), MAX(est_translation_error),
		       AVG(est_rotation_error), MAX(est_rotation_error)
		FROM pose_frames WHERE session_id = ?`, sessionID).
		Scan(&st.Frames, &st.Solved, &st.Measured, &meanInl, &meanRatio, &meanT, &maxT, &meanR, &maxR)
	if err != nil {
		return SessionStats{}, fmt.Errorf("aggregate frames: %w", err)
	}
	st.MeanInliers = meanInl.Float64
	st.MeanInlierRatio = meanRatio.Float64
	if meanT.Valid {
		st.HasTruth = true
		st.MeanTranslationError, st.MaxTranslationError = meanT.Float64, maxT.Float64
		st.MeanRotationError, st.MaxRotationError = meanR.Float64, maxR.Float64
	}
	return st, nil
}
