package mcnnm

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// design holds what is derived once per fit call and read-only inside it.
type design struct {
	spec ModelSpec

	xTilde *mat.Dense // N x (P+N)
	zTilde *mat.Dense // T x (Q+T)
	xSolve *lstsq
	zSolve *lstsq

	// The covariate block only exists when P > 0 or Q > 0. Without covariates
	// H stays zero and the X~ H Z~^T term is never subtracted.
	covariates bool

	omega mat.Matrix
	v     []*mat.Dense
}

func newDesign(p *Panel, spec ModelSpec) *design {
	d := augmentedDesign(p, spec)
	d.omega = p.omegaOrIdentity()
	if d.covariates {
		d.xSolve = newLstsq(d.xTilde)
		d.zSolve = newLstsq(d.zTilde)
	}
	return d
}

// augmentedDesign builds X~ and Z~ only, enough to evaluate the covariate term.
func augmentedDesign(p *Panel, spec ModelSpec) *design {
	N, T := p.Dims()
	pDim, qDim, _ := p.CovariateDims()
	return &design{
		spec:       spec,
		covariates: pDim > 0 || qDim > 0,
		xTilde:     augment(p.X, N),
		zTilde:     augment(p.Z, T),
		v:          p.V,
	}
}

// covariateTerm returns X~ H Z~^T, or nil when there is no covariate block.
func (d *design) covariateTerm(h mat.Matrix) *mat.Dense {
	if !d.covariates {
		return nil
	}
	var xh, out mat.Dense
	xh.Mul(d.xTilde, h)
	out.Mul(&xh, d.zTilde.T())
	return &out
}

// unitTimeTerm returns sum_j V_j * beta_j, or nil when V is empty.
func unitTimeTerm(v []*mat.Dense, beta []float64) *mat.Dense {
	if len(v) == 0 {
		return nil
	}
	r, c := v[0].Dims()
	out := mat.NewDense(r, c, nil)
	var scaled mat.Dense
	for j, vj := range v {
		scaled.Scale(beta[j], vj)
		out.Add(out, &scaled)
	}
	return out
}

// subtractFixedEffects returns y minus the enabled gamma / delta contributions.
func subtractFixedEffects(y mat.Matrix, gamma, delta []float64, spec ModelSpec) *mat.Dense {
	var out mat.Dense
	out.Apply(func(i, t int, v float64) float64 {
		if spec.UseUnitFE {
			v -= gamma[i]
		}
		if spec.UseTimeFE {
			v -= delta[t]
		}
		return v
	}, y)
	return &out
}

// residual returns base minus every non-nil term.
func residual(base mat.Matrix, terms ...*mat.Dense) *mat.Dense {
	out := mat.DenseCopyOf(base)
	for _, term := range terms {
		if term != nil {
			out.Sub(out, term)
		}
	}
	return out
}

// fitStep runs one sweep. Each block conditions on the blocks already updated
// in this sweep, except H: its residual is built from the pre-sweep H and beta
// and does not subtract the new L.
func fitStep(y, w *mat.Dense, d *design, lambda LambdaPair, cur Params) Params {
	var o mat.Dense
	o.Apply(func(_, _ int, v float64) float64 { return 1 - v }, w)

	base := subtractFixedEffects(y, cur.Gamma, cur.Delta, d.spec)
	vTerm := unitTimeTerm(d.v, cur.Beta)

	yAdj := residual(base, d.covariateTerm(cur.H), vTerm)
	lNew := UpdateL(yAdj, cur.L, d.omega, &o, lambda.L)

	hNew := cur.H
	if d.covariates {
		yAdj = residual(base, d.covariateTerm(cur.H), vTerm)
		hNew = updateH(d.xSolve, d.zSolve, yAdj, lambda.H)
	}

	yAdj = residual(base, lNew, d.covariateTerm(hNew), vTerm)
	gamma, delta, beta := UpdateFixedEffectsAndBeta(yAdj, d.v, d.spec.UseUnitFE, d.spec.UseTimeFE)

	return Params{L: lNew, H: hNew, Gamma: gamma, Delta: delta, Beta: beta}
}

// Fit runs block coordinate descent from init until the Frobenius change of L
// drops below opts.Tol or opts.MaxIter sweeps have run. Reaching MaxIter is not
// an error; the last iterate is returned with Status MaxIterReached.
func Fit(p *Panel, spec ModelSpec, lambda LambdaPair, init Params, opts FitOptions) (*FitResult, error) {
	if err := CheckPanel(p); err != nil {
		return nil, err
	}
	if err := checkParams(p, init); err != nil {
		return nil, err
	}
	if lambda.L < 0 || lambda.H < 0 {
		return nil, fmt.Errorf("%w: penalties must be >= 0, got lambda_L=%v lambda_H=%v", ErrInvalidConfig, lambda.L, lambda.H)
	}
	return fit(p, spec, lambda, init, opts), nil
}

func fit(p *Panel, spec ModelSpec, lambda LambdaPair, init Params, opts FitOptions) *FitResult {
	d := newDesign(p, spec)
	cur := init.clone()
	if len(p.V) == 0 {
		cur.Beta = make([]float64, 0)
	}

	N, T := p.Dims()
	prevL := mat.NewDense(N, T, nil)
	res := &FitResult{Status: Running}
	var diff mat.Dense
	for res.Status == Running {
		cur = fitStep(p.Y, p.W, d, lambda, cur)
		res.Iterations++

		diff.Sub(cur.L, prevL)
		res.Change = FrobeniusNorm(&diff)
		switch {
		case res.Change < opts.Tol:
			res.Status = Converged
		case res.Iterations >= opts.MaxIter:
			res.Status = MaxIterReached
		default:
			prevL = cur.L
		}
	}
	res.Params = cur
	return res
}

func (p Params) clone() Params {
	out := Params{
		Gamma: append([]float64(nil), p.Gamma...),
		Delta: append([]float64(nil), p.Delta...),
		Beta:  append([]float64(nil), p.Beta...),
	}
	if p.L != nil {
		out.L = mat.DenseCopyOf(p.L)
	}
	if p.H != nil {
		out.H = mat.DenseCopyOf(p.H)
	}
	return out
}
