// Package mesh holds the triangulated object model and the ray/mesh
// intersection query used to lift image points onto the object surface.
package mesh

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

var (
	// ErrNoSurfaceIntersection is returned when a ray misses every triangle.
	ErrNoSurfaceIntersection = errors.New("mesh: point not on tracked surface")
	// ErrDegenerateRay is returned for a ray with a zero or non-finite direction.
	ErrDegenerateRay = errors.New("mesh: degenerate ray direction")
)

// Vertex is a mesh point. Its identity is Index, the position in Mesh.Vertices.
type Vertex struct {
	Index int
	Point r3.Vec
}

// Triangle references three vertices of the owning mesh by index.
type Triangle struct {
	ID int
	V  [3]int
}

// Mesh is an immutable triangulated surface. Callers must not modify the
// slices after New returns; queries read them concurrently.
type Mesh struct {
	Vertices  []Vertex
	Triangles []Triangle
}

// New builds a mesh from ordered points and index triples, validating that
// every index refers to an existing vertex.
func New(points []r3.Vec, faces [][3]int) (*Mesh, error) {
	m := &Mesh{
		Vertices:  make([]Vertex, len(points)),
		Triangles: make([]Triangle, len(faces)),
	}
	for i, p := range points {
		m.Vertices[i] = Vertex{Index: i, Point: p}
	}
	for i, f := range faces {
		for _, idx := range f {
			if idx < 0 || idx >= len(points) {
				return nil, fmt.Errorf("triangle %d references vertex %d of %d", i, idx, len(points))
			}
		}
		m.Triangles[i] = Triangle{ID: i, V: f}
	}
	return m, nil
}

// Points returns the vertex positions in index order.
func (m *Mesh) Points() []r3.Vec {
	out := make([]r3.Vec, len(m.Vertices))
	for i, v := range m.Vertices {
		out[i] = v.Point
	}
	return out
}

// Corners returns the three vertex positions of triangle i.
func (m *Mesh) Corners(i int) (r3.Vec, r3.Vec, r3.Vec) {
	t := m.Triangles[i]
	return m.Vertices[t.V[0]].Point, m.Vertices[t.V[1]].Point, m.Vertices[t.V[2]].Point
}

// UnitCube returns an axis-aligned cube of side 1 centred at the origin:
// 8 vertices and 12 triangles, two per face.
func UnitCube() *Mesh {
	const h = 0.5
	points := []r3.Vec{
		{X: -h, Y: -h, Z: -h}, // 0
		{X: h, Y: -h, Z: -h},  // 1
		{X: h, Y: h, Z: -h},   // 2
		{X: -h, Y: h, Z: -h},  // 3
		{X: -h, Y: -h, Z: h},  // 4
		{X: h, Y: -h, Z: h},   // 5
		{X: h, Y: h, Z: h},    // 6
		{X: -h, Y: h, Z: h},   // 7
	}
	faces := [][3]int{
		{0, 1, 2}, {0, 2, 3}, // z = -h
		{4, 6, 5}, {4, 7, 6}, // z = +h
		{0, 4, 5}, {0, 5, 1}, // y = -h
		{3, 2, 6}, {3, 6, 7}, // y = +h
		{0, 3, 7}, {0, 7, 4}, // x = -h
		{1, 5, 6}, {1, 6, 2}, // x = +h
	}
	m, err := New(points, faces)
	if err != nil {
		panic(err)
	}
	return m
}
