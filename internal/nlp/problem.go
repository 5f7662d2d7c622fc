// Package nlp defines the nonlinear program handed to solvers and the block
// program that implements it for transcribed problems.
package nlp

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Nonzero is one entry of a sparsity pattern.
type Nonzero struct {
	Row, Col int
}

// Problem is
//
//	min f(x)  s.t.  glo <= g(x) <= ghi,  xlo <= x <= xhi.
//
// Equalities have glo == ghi. Dense derivative storage is used throughout;
// the structure methods report which entries can be nonzero.
type Problem interface {
	Dims() (n, m int)
	Bounds() (xlo, xhi, glo, ghi []float64)
	InitialGuess() []float64

	Objective(x []float64) float64
	Gradient(x, grad []float64)
	Constraints(x, g []float64)
	// Jacobian overwrites jac (m x n).
	Jacobian(x []float64, jac *mat.Dense)
	// Hessian overwrites hess with the Hessian of sigma*f + lambda'g.
	Hessian(x []float64, sigma float64, lambda []float64, hess *mat.SymDense)

	JacobianStructure() []Nonzero
	// HessianStructure lists the upper triangle, Row <= Col.
	HessianStructure() []Nonzero
}

// Violation returns the largest bound violation of g and x.
func Violation(p Problem, x []float64) float64 {
	n, m := p.Dims()
	xlo, xhi, glo, ghi := p.Bounds()
	g := make([]float64, m)
	p.Constraints(x, g)
	v := 0.0
	for i := 0; i < m; i++ {
		v = math.Max(v, math.Max(glo[i]-g[i], g[i]-ghi[i]))
	}
	for i := 0; i < n; i++ {
		v = math.Max(v, math.Max(xlo[i]-x[i], x[i]-xhi[i]))
	}
	return v
}
