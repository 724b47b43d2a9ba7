package pnp

import (
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/MilonLemon/pnp-demo/internal/camera"
	"github.com/MilonLemon/pnp-demo/internal/geom"
)

const (
	lmMaxIterations = 50
	lmInitialLambda = 1e-3
	lmMaxLambda     = 1e10
	lmTolerance     = 1e-12
	// behindPenalty replaces the residual of a point that projects at zero depth.
	behindPenalty = 1e6
)

// refine minimises the summed squared reprojection error over all corrs with
// Levenberg–Marquardt, starting from init. The rotation is parametrised
// locally as R = exp([ω]x)·R0, so every iterate stays orthonormal. The
// returned pose is never worse than init.
func refine(intr camera.Intrinsics, corrs []geom.Correspondence, init camera.Pose) camera.Pose {
	n := len(corrs)
	if n < 3 {
		return init
	}
	r0 := init.Rotation
	poseAt := func(x []float64) camera.Pose {
		return camera.Pose{
			Rotation:    geom.RotationFromRodrigues(r3.Vec{X: x[0], Y: x[1], Z: x[2]}).Mul(r0),
			Translation: r3.Vec{X: x[3], Y: x[4], Z: x[5]},
		}
	}
	residuals := func(y, x []float64) {
		pm := camera.NewProjectionMatrix(intr, poseAt(x))
		for i, c := range corrs {
			p, err := camera.Project(pm, c.World)
			if err != nil {
				y[2*i], y[2*i+1] = behindPenalty, behindPenalty
				continue
			}
			y[2*i] = p.X - c.Image.X
			y[2*i+1] = p.Y - c.Image.Y
		}
	}
	cost := func(y []float64) float64 {
		var s float64
		for _, v := range y {
			s += v * v
		}
		return s
	}

	x := []float64{0, 0, 0, init.Translation.X, init.Translation.Y, init.Translation.Z}
	y := make([]float64, 2*n)
	residuals(y, x)
	cur := cost(y)

	jac := mat.NewDense(2*n, 6, nil)
	settings := &fd.JacobianSettings{Formula: fd.Central}
	lambda := lmInitialLambda
	trial := make([]float64, 6)
	ty := make([]float64, 2*n)

	for iter := 0; iter < lmMaxIterations && cur > 0; iter++ {
		fd.Jacobian(jac, residuals, x, settings)

		var jtj mat.SymDense
		jtj.SymOuterK(1, jac.T())
		var g mat.VecDense
		g.MulVec(jac.T(), mat.NewVecDense(2*n, y))

		improved := false
		for lambda <= lmMaxLambda {
			a := mat.NewDense(6, 6, nil)
			a.Copy(&jtj)
			for k := 0; k < 6; k++ {
				d := jtj.At(k, k)
				if d == 0 {
					d = 1
				}
				a.Set(k, k, a.At(k, k)+lambda*d)
			}
			var delta mat.VecDense
			if err := delta.SolveVec(a, &g); err != nil {
				lambda *= 10
				continue
			}
			for k := range trial {
				trial[k] = x[k] - delta.AtVec(k)
			}
			residuals(ty, trial)
			next := cost(ty)
			if next < cur {
				step := mat.Norm(&delta, 2)
				rel := (cur - next) / cur
				copy(x, trial)
				copy(y, ty)
				cur = next
				lambda = math.Max(lambda/10, 1e-12)
				improved = true
				if step < lmTolerance || rel < lmTolerance {
					return poseAt(x)
				}
				break
			}
			lambda *= 10
		}
		if !improved {
			break
		}
	}
	return poseAt(x)
}
