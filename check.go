package mcnnm

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

func sameDims(aName string, a mat.Matrix, bName string, b mat.Matrix) error {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar != br || ac != bc {
		return fmt.Errorf("%w: %s is %dx%d but %s is %dx%d", ErrShapeMismatch, aName, ar, ac, bName, br, bc)
	}
	return nil
}

// CheckPanel verifies that every input of p agrees with Y's N x T shape.
func CheckPanel(p *Panel) error {
	if p == nil || p.Y == nil || p.W == nil {
		return fmt.Errorf("%w: Y and W are required", ErrShapeMismatch)
	}
	if err := sameDims("Y", p.Y, "W", p.W); err != nil {
		return err
	}
	N, T := p.Y.Dims()

	if p.X != nil {
		if r, _ := p.X.Dims(); r != N {
			return fmt.Errorf("%w: X has %d rows, want %d", ErrShapeMismatch, r, N)
		}
	}
	if p.Z != nil {
		if r, _ := p.Z.Dims(); r != T {
			return fmt.Errorf("%w: Z has %d rows, want %d", ErrShapeMismatch, r, T)
		}
	}
	for j, v := range p.V {
		if v == nil {
			return fmt.Errorf("%w: V[%d] is nil", ErrShapeMismatch, j)
		}
		if err := sameDims("Y", p.Y, fmt.Sprintf("V[%d]", j), v); err != nil {
			return err
		}
	}
	if p.Omega != nil {
		if r, c := p.Omega.Dims(); r != T || c != T {
			return fmt.Errorf("%w: Omega is %dx%d, want %dx%d", ErrShapeMismatch, r, c, T, T)
		}
	}

	for i := 0; i < N; i++ {
		for t := 0; t < T; t++ {
			if w := p.W.At(i, t); w != 0 && w != 1 {
				return fmt.Errorf("%w: W[%d,%d] = %v, want 0 or 1", ErrShapeMismatch, i, t, w)
			}
		}
	}
	return nil
}

// omegaOrIdentity returns the autocorrelation matrix, defaulting to I_T.
func (p *Panel) omegaOrIdentity() *mat.Dense {
	if p.Omega != nil {
		return p.Omega
	}
	_, T := p.Dims()
	return identity(T)
}

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}
