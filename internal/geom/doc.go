// Package geom holds the small value types shared by the camera, mesh,
// and pose-solving layers: image points, rays, 2D-3D correspondences, and
// the row-major 3x3 Rotation with its axis-angle and Euler conversions.
//
// 3D vectors are gonum spatial/r3 Vec values throughout.
//
// Dependency rule: geom depends on nothing else in this module.
package geom
