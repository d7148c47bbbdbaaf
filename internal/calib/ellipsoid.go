// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calib

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/relabs-tech/motion_calibration/internal/sensor"
)

const quadricParams = 9

// EllipsoidFitter fits a general quadric to a magnetometer sweep.
//
// The quadric is
//
//	a x² + b y² + c z² + 2d xy + 2e xz + 2f yz + 2g x + 2h y + 2i z = 1
//
// solved in the least squares sense on points centred on their mean and
// scaled by their RMS radius. MaxCondition bounds the 2-norm condition number
// of the design matrix; above it the sweep lacks angular diversity.
type EllipsoidFitter struct {
	MinSamples   int
	MaxCondition float64
}

// EllipsoidFit is the result of a successful fit.
type EllipsoidFit struct {
	Coefficients
	Condition float64 // design matrix condition number
	Residual  float64 // RMS of |Gain·(p-Offset)| - 1
}

// Fit returns the hard-iron offset (ellipsoid center) and the symmetric
// soft-iron gain that maps the fitted ellipsoid onto the unit sphere.
func (f EllipsoidFitter) Fit(points []sensor.Vec3) (EllipsoidFit, error) {
	minSamples := f.MinSamples
	if minSamples < quadricParams {
		minSamples = quadricParams
	}
	if len(points) < minSamples {
		return EllipsoidFit{}, fmt.Errorf("ellipsoid: %d samples, need %d: %w", len(points), minSamples, ErrInsufficientCoverage)
	}

	mean, radius := centroid(points)
	if !(radius > 0) {
		return EllipsoidFit{}, fmt.Errorf("ellipsoid: zero spread: %w", ErrInsufficientCoverage)
	}

	n := len(points)
	design := mat.NewDense(n, quadricParams, nil)
	ones := mat.NewVecDense(n, nil)
	for i, p := range points {
		x := (p[0] - mean[0]) / radius
		y := (p[1] - mean[1]) / radius
		z := (p[2] - mean[2]) / radius
		design.SetRow(i, []float64{x * x, y * y, z * z, 2 * x * y, 2 * x * z, 2 * y * z, 2 * x, 2 * y, 2 * z})
		ones.SetVec(i, 1)
	}

	var svd mat.SVD
	if !svd.Factorize(design, mat.SVDNone) {
		return EllipsoidFit{}, fmt.Errorf("ellipsoid: SVD failed: %w", ErrInsufficientCoverage)
	}
	cond := svd.Cond()
	if math.IsNaN(cond) || math.IsInf(cond, 0) || cond > f.MaxCondition {
		return EllipsoidFit{}, fmt.Errorf("ellipsoid: condition number %.3g exceeds %.3g: %w", cond, f.MaxCondition, ErrInsufficientCoverage)
	}

	var params mat.VecDense
	if err := params.SolveVec(design, ones); err != nil {
		return EllipsoidFit{}, fmt.Errorf("ellipsoid: least squares: %v: %w", err, ErrInsufficientCoverage)
	}
	p := params.RawVector().Data

	quad := mat.NewSymDense(3, []float64{
		p[0], p[3], p[4],
		p[3], p[1], p[5],
		p[4], p[5], p[2],
	})
	linear := mat.NewVecDense(3, []float64{-p[6], -p[7], -p[8]})

	// Center solves quad·c = -linear.
	var center mat.VecDense
	if err := center.SolveVec(quad, linear); err != nil {
		return EllipsoidFit{}, fmt.Errorf("ellipsoid: center: %v: %w", err, ErrInsufficientCoverage)
	}

	// (q-c)ᵀ·quad·(q-c) = 1 + cᵀ·quad·c
	k := 1 + mat.Inner(&center, quad, &center)
	if !(k > 0) {
		return EllipsoidFit{}, fmt.Errorf("ellipsoid: degenerate quadric (k=%v): %w", k, ErrInsufficientCoverage)
	}
	var norm mat.SymDense
	norm.ScaleSym(1/k, quad)

	soft, err := symmetricSqrt(&norm)
	if err != nil {
		return EllipsoidFit{}, err
	}

	var fit EllipsoidFit
	fit.Condition = cond
	for r := 0; r < 3; r++ {
		fit.Offset[r] = mean[r] + radius*center.AtVec(r)
		for c := 0; c < 3; c++ {
			fit.Gain[r][c] = soft.At(r, c) / radius
		}
	}
	if err := fit.Validate(); err != nil {
		return EllipsoidFit{}, fmt.Errorf("ellipsoid: %w", err)
	}
	fit.Residual = sphereResidual(points, fit.Coefficients)
	return fit, nil
}

// symmetricSqrt returns V·diag(√λ)·Vᵀ; every eigenvalue must be positive,
// otherwise the quadric is not an ellipsoid.
func symmetricSqrt(m *mat.SymDense) (*mat.Dense, error) {
	var eig mat.EigenSym
	if !eig.Factorize(m, true) {
		return nil, fmt.Errorf("ellipsoid: eigen decomposition failed: %w", ErrInsufficientCoverage)
	}
	values := eig.Values(nil)
	for _, v := range values {
		if !(v > 0) {
			return nil, fmt.Errorf("ellipsoid: quadric is not an ellipsoid (eigenvalues %v): %w", values, ErrInsufficientCoverage)
		}
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	root := mat.NewDiagDense(3, []float64{math.Sqrt(values[0]), math.Sqrt(values[1]), math.Sqrt(values[2])})
	var tmp, out mat.Dense
	tmp.Mul(&vecs, root)
	out.Mul(&tmp, vecs.T())
	return &out, nil
}

func centroid(points []sensor.Vec3) (sensor.Vec3, float64) {
	var mean sensor.Vec3
	for _, p := range points {
		for axis := 0; axis < 3; axis++ {
			mean[axis] += p[axis]
		}
	}
	for axis := 0; axis < 3; axis++ {
		mean[axis] /= float64(len(points))
	}
	var sq float64
	for _, p := range points {
		d := p.Sub(mean)
		sq += d[0]*d[0] + d[1]*d[1] + d[2]*d[2]
	}
	return mean, math.Sqrt(sq / float64(len(points)))
}

func sphereResidual(points []sensor.Vec3, c Coefficients) float64 {
	var sq float64
	for _, p := range points {
		v := c.Gain.MulVec(p.Sub(c.Offset))
		d := math.Sqrt(v[0]*v[0]+v[1]*v[1]+v[2]*v[2]) - 1
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(points)))
}
