package mcnnm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ShrinkSingularValues applies singular-value soft-thresholding:
// M = U S V^T  ->  U max(S - lambda, 0) V^T.
// It is the proximal operator of lambda * nuclear norm. lambda = 0 returns a copy of m.
func ShrinkSingularValues(m mat.Matrix, lambda float64) *mat.Dense {
	if lambda < 0 {
		panic(fmt.Sprintf("mcnnm: negative shrinkage %v", lambda))
	}
	if lambda == 0 {
		return mat.DenseCopyOf(m)
	}

	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDThin); !ok {
		// Factorization only fails on NaN/Inf input; there is nothing to shrink.
		return mat.DenseCopyOf(m)
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	s := svd.Values(nil)

	// Scale the columns of U by the shrunk singular values, then multiply by V^T.
	r, k := u.Dims()
	kept := 0
	for i := range s {
		s[i] = math.Max(s[i]-lambda, 0)
		if s[i] > 0 {
			kept++
		}
	}
	rows, cols := m.Dims()
	if kept == 0 {
		return mat.NewDense(rows, cols, nil)
	}
	for i := 0; i < r; i++ {
		for j := 0; j < k; j++ {
			u.Set(i, j, u.At(i, j)*s[j])
		}
	}
	out := mat.NewDense(rows, cols, nil)
	out.Mul(u.Slice(0, r, 0, kept), v.Slice(0, cols, 0, kept).T())
	return out
}

// SoftThreshold returns sign(x) * max(|x| - lambda, 0).
func SoftThreshold(x, lambda float64) float64 {
	switch {
	case x > lambda:
		return x - lambda
	case x < -lambda:
		return x + lambda
	}
	return 0
}

// SoftThresholdMatrix applies SoftThreshold to every entry of m.
func SoftThresholdMatrix(m mat.Matrix, lambda float64) *mat.Dense {
	var out mat.Dense
	out.Apply(func(_, _ int, v float64) float64 { return SoftThreshold(v, lambda) }, m)
	return &out
}

// NuclearNorm returns the sum of the singular values of a.
func NuclearNorm(a mat.Matrix) float64 {
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDNone); !ok {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range svd.Values(nil) {
		sum += v
	}
	return sum
}

// FrobeniusNorm returns sqrt(sum a_ij^2).
func FrobeniusNorm(a mat.Matrix) float64 { return mat.Norm(a, 2) }

// ElementwiseL1Norm returns sum |a_ij|.
func ElementwiseL1Norm(a mat.Matrix) float64 {
	r, c := a.Dims()
	sum := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			sum += math.Abs(a.At(i, j))
		}
	}
	return sum
}

// MaskObserved keeps the entries of a where mask is nonzero and zeroes the rest.
func MaskObserved(a, mask mat.Matrix) (*mat.Dense, error) {
	if err := sameDims("matrix", a, "mask", mask); err != nil {
		return nil, err
	}
	var out mat.Dense
	out.Apply(func(i, j int, v float64) float64 {
		if mask.At(i, j) != 0 {
			return v
		}
		return 0
	}, a)
	return &out, nil
}

// MaskUnobserved keeps the entries of a where mask is zero.
func MaskUnobserved(a, mask mat.Matrix) (*mat.Dense, error) {
	if err := sameDims("matrix", a, "mask", mask); err != nil {
		return nil, err
	}
	var out mat.Dense
	out.Apply(func(i, j int, v float64) float64 {
		if mask.At(i, j) != 0 {
			return 0
		}
		return v
	}, a)
	return &out, nil
}

// IsPositiveDefinite reports whether the symmetric part of a square matrix has
// only positive eigenvalues.
func IsPositiveDefinite(a mat.Matrix) bool {
	r, c := a.Dims()
	if r != c {
		return false
	}
	sym := mat.NewSymDense(r, nil)
	for i := 0; i < r; i++ {
		for j := i; j < r; j++ {
			sym.SetSym(i, j, (a.At(i, j)+a.At(j, i))/2)
		}
	}
	var eig mat.EigenSym
	if ok := eig.Factorize(sym, false); !ok {
		return false
	}
	for _, v := range eig.Values(nil) {
		if v <= 0 {
			return false
		}
	}
	return true
}
