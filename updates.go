package mcnnm

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// lstsq is a factorized least-squares operator for a fixed design matrix a.
// solve(b) returns the minimum-norm X minimizing ||b - a X||_F, so rank-deficient
// designs are handled by the pseudo-inverse instead of an exact inverse.
type lstsq struct {
	svd  mat.SVD
	rank int
	cols int
	// set when a could not be factorized; solve then returns NaN
	failed bool
}

func newLstsq(a mat.Matrix) *lstsq {
	r, c := a.Dims()
	ls := &lstsq{cols: c}
	if ok := ls.svd.Factorize(a, mat.SVDThin); !ok {
		ls.failed = true
		return ls
	}
	// Same cutoff as LAPACK's gelsd with the default rcond: eps * max(r, c).
	ls.rank = ls.svd.Rank(eps * float64(max(r, c)))
	return ls
}

const eps = 2.220446049250313e-16

func (ls *lstsq) solve(b mat.Matrix) *mat.Dense {
	_, bc := b.Dims()
	if ls.failed {
		x := mat.NewDense(ls.cols, bc, nil)
		x.Apply(func(_, _ int, _ float64) float64 { return math.NaN() }, x)
		return x
	}
	if ls.rank < 1 {
		return mat.NewDense(ls.cols, bc, nil)
	}
	var x mat.Dense
	ls.svd.SolveTo(&x, b, ls.rank)
	return &x
}

// augment returns [a | I_n]. A nil a yields I_n.
func augment(a *mat.Dense, n int) *mat.Dense {
	if a == nil {
		return identity(n)
	}
	var out mat.Dense
	out.Augment(a, identity(n))
	return &out
}

// UpdateL performs the proximal step for the low-rank matrix. The fitting
// entries (o != 0) of L are overwritten with yAdj * Omega, held-out entries keep
// their current value, and the result is singular-value shrunk by
// lambdaL * |O| / 2.
func UpdateL(yAdj, L, omega, o mat.Matrix, lambdaL float64) *mat.Dense {
	_, T := yAdj.Dims()
	var proj mat.Dense
	proj.Mul(yAdj, omegaBlock(omega, T))

	count := 0.0
	proj.Apply(func(i, j int, v float64) float64 {
		if o.At(i, j) != 0 {
			count++
			return v
		}
		return L.At(i, j)
	}, &proj)
	return ShrinkSingularValues(&proj, lambdaL*count/2)
}

// omegaBlock restricts Omega to the first t periods.
func omegaBlock(omega mat.Matrix, t int) mat.Matrix {
	r, c := omega.Dims()
	if r == t && c == t {
		return omega
	}
	if d, ok := omega.(*mat.Dense); ok {
		return d.Slice(0, t, 0, t)
	}
	return mat.DenseCopyOf(omega).Slice(0, t, 0, t)
}

// UpdateH solves min ||yAdj - xTilde H zTilde^T||_F by least squares and then
// soft-thresholds every entry of the solution by lambdaH.
//
// This replaces coordinate descent on the L1 penalized problem with a closed
// form solve followed by shrinkage. The two are not identical in general.
func UpdateH(xTilde, yAdj, zTilde mat.Matrix, lambdaH float64) *mat.Dense {
	return updateH(newLstsq(xTilde), newLstsq(zTilde), yAdj, lambdaH)
}

func updateH(xs, zs *lstsq, yAdj mat.Matrix, lambdaH float64) *mat.Dense {
	// H = X+ Y (Z+)^T, computed as M = X+ Y, then H^T = Z+ M^T.
	m := xs.solve(yAdj)
	ht := zs.solve(m.T())
	return SoftThresholdMatrix(ht.T(), lambdaH)
}

// UpdateFixedEffectsAndBeta returns the closed-form minimizers of the smooth
// blocks: gamma is the row mean of yAdj, delta the column mean of what remains
// after gamma, and beta the least-squares fit of the flattened yAdj on V.
// Disabled effects and an empty V give zero vectors.
func UpdateFixedEffectsAndBeta(yAdj mat.Matrix, v []*mat.Dense, useUnitFE, useTimeFE bool) (gamma, delta, beta []float64) {
	N, T := yAdj.Dims()
	gamma = make([]float64, N)
	delta = make([]float64, T)

	row := make([]float64, T)
	if useUnitFE {
		for i := 0; i < N; i++ {
			gamma[i] = stat.Mean(mat.Row(row, i, yAdj), nil)
		}
	}
	if useTimeFE {
		col := make([]float64, N)
		for t := 0; t < T; t++ {
			for i := 0; i < N; i++ {
				col[i] = yAdj.At(i, t) - gamma[i]
			}
			delta[t] = stat.Mean(col, nil)
		}
	}

	beta = ComputeBeta(v, yAdj)
	return gamma, delta, beta
}

// ComputeBeta regresses the row-major flattening of yAdj on the (N*T) x J
// flattening of v. It returns an empty slice when v is empty, and NaN
// coefficients when v or yAdj holds a non-finite value.
func ComputeBeta(v []*mat.Dense, yAdj mat.Matrix) []float64 {
	J := len(v)
	beta := make([]float64, J)
	if J == 0 {
		return beta
	}
	N, T := yAdj.Dims()
	design := mat.NewDense(N*T, J, nil)
	target := mat.NewDense(N*T, 1, nil)
	finite := true
	for i := 0; i < N; i++ {
		for t := 0; t < T; t++ {
			k := i*T + t
			for j, vj := range v {
				x := vj.At(i, t)
				finite = finite && !math.IsNaN(x) && !math.IsInf(x, 0)
				design.Set(k, j, x)
			}
			y := yAdj.At(i, t)
			finite = finite && !math.IsNaN(y) && !math.IsInf(y, 0)
			target.Set(k, 0, y)
		}
	}
	if !finite {
		for j := range beta {
			beta[j] = math.NaN()
		}
		return beta
	}
	sol := newLstsq(design).solve(target)
	for j := range beta {
		beta[j] = sol.At(j, 0)
	}
	return beta
}
