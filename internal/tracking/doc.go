// Package tracking smooths the raw per-frame pose stream with a linear
// Kalman filter.
//
// The state has 18 components: position, velocity and acceleration for the
// three translation axes, then angle, angular velocity and angular
// acceleration for roll, pitch and yaw. Both blocks follow the same
// constant-acceleration kinematics. A measurement is the 6-vector
// [x, y, z, roll, pitch, yaw] taken directly from a solved pose.
//
// Orientation crosses the filter boundary as Euler angles (bank, attitude,
// heading in geom terms). The decomposition is singular at ±90° pitch and the
// filter does not special-case it. Angle innovations are not wrapped to
// (−π, π] either, so a heading or bank crossing ±π reads as a jump of about
// 2π and the estimate swings through zero.
//
// Each frame calls Predict, and calls Correct only when the pose solve
// reported at least MinInliers inliers; Step bundles that policy.
package tracking
