package mcnnm

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// InitializeParams returns the starting point of the fit loop.
//
// L, H and beta start at zero. When enabled, gamma starts at the mean of each
// unit's fitting entries (W = 0) and delta at the mean of each period's fitting
// entries after gamma is removed; rows or columns without fitting entries get 0.
func InitializeParams(p *Panel, spec ModelSpec) Params {
	N, T := p.Dims()
	pDim, qDim, jDim := p.CovariateDims()

	params := Params{
		L:     mat.NewDense(N, T, nil),
		H:     mat.NewDense(pDim+N, qDim+T, nil),
		Gamma: make([]float64, N),
		Delta: make([]float64, T),
		Beta:  make([]float64, jDim),
	}

	if spec.UseUnitFE {
		for i := 0; i < N; i++ {
			sum, n := 0.0, 0
			for t := 0; t < T; t++ {
				if p.W.At(i, t) == 0 {
					sum += p.Y.At(i, t)
					n++
				}
			}
			if n > 0 {
				params.Gamma[i] = sum / float64(n)
			}
		}
	}
	if spec.UseTimeFE {
		for t := 0; t < T; t++ {
			sum, n := 0.0, 0
			for i := 0; i < N; i++ {
				if p.W.At(i, t) == 0 {
					sum += p.Y.At(i, t) - params.Gamma[i]
					n++
				}
			}
			if n > 0 {
				params.Delta[t] = sum / float64(n)
			}
		}
	}
	return params
}

func checkParams(p *Panel, init Params) error {
	N, T := p.Dims()
	pDim, qDim, jDim := p.CovariateDims()
	if init.L == nil || init.H == nil {
		return fmt.Errorf("%w: initial L and H are required", ErrShapeMismatch)
	}
	if r, c := init.L.Dims(); r != N || c != T {
		return fmt.Errorf("%w: L is %dx%d, want %dx%d", ErrShapeMismatch, r, c, N, T)
	}
	if r, c := init.H.Dims(); r != pDim+N || c != qDim+T {
		return fmt.Errorf("%w: H is %dx%d, want %dx%d", ErrShapeMismatch, r, c, pDim+N, qDim+T)
	}
	if len(init.Gamma) != N || len(init.Delta) != T {
		return fmt.Errorf("%w: gamma/delta have length %d/%d, want %d/%d",
			ErrShapeMismatch, len(init.Gamma), len(init.Delta), N, T)
	}
	if len(init.Beta) != jDim {
		return fmt.Errorf("%w: beta has length %d, want %d", ErrShapeMismatch, len(init.Beta), jDim)
	}
	return nil
}
