package pnp

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/MilonLemon/pnp-demo/internal/camera"
	"github.com/MilonLemon/pnp-demo/internal/geom"
)

// alignPoints finds the rigid transform with cam[i] ≈ R·world[i] + t in the
// least-squares sense. The SVD solution is sign-corrected so det R = +1.
func alignPoints(world, cam []r3.Vec) (camera.Pose, bool) {
	n := len(world)
	if n < 3 || len(cam) != n {
		return camera.Pose{}, false
	}
	var wc, cc r3.Vec
	for i := range world {
		wc = r3.Add(wc, world[i])
		cc = r3.Add(cc, cam[i])
	}
	wc = r3.Scale(1/float64(n), wc)
	cc = r3.Scale(1/float64(n), cc)

	// H = Σ (w - w̄)(c - c̄)ᵀ
	h := mat.NewDense(3, 3, nil)
	for i := range world {
		w := r3.Sub(world[i], wc)
		c := r3.Sub(cam[i], cc)
		wv := [3]float64{w.X, w.Y, w.Z}
		cv := [3]float64{c.X, c.Y, c.Z}
		for r := 0; r < 3; r++ {
			for k := 0; k < 3; k++ {
				h.Set(r, k, h.At(r, k)+wv[r]*cv[k])
			}
		}
	}

	var svd mat.SVD
	if !svd.Factorize(h, mat.SVDFull) {
		return camera.Pose{}, false
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// R = V·diag(1, 1, d)·Uᵀ
	var r mat.Dense
	r.Mul(&v, u.T())
	if mat.Det(&r) < 0 {
		for i := 0; i < 3; i++ {
			v.Set(i, 2, -v.At(i, 2))
		}
		r.Mul(&v, u.T())
	}

	rot := geom.RotationFromDense(&r)
	t := r3.Sub(cc, rot.Apply(wc))
	return camera.Pose{Rotation: rot, Translation: t}, true
}
