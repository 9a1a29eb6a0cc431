package mcnnm

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// CompletedMatrix rebuilds the counterfactual outcome surface
// L + X~ H Z~^T (+ gamma 1^T) (+ 1 delta^T) (+ sum_j V_j beta_j).
func CompletedMatrix(p *Panel, spec ModelSpec, params Params) *mat.Dense {
	d := augmentedDesign(p, spec)
	completed := mat.DenseCopyOf(params.L)
	if cov := d.covariateTerm(params.H); cov != nil {
		completed.Add(completed, cov)
	}
	completed.Apply(func(i, t int, v float64) float64 {
		if spec.UseUnitFE {
			v += params.Gamma[i]
		}
		if spec.UseTimeFE {
			v += params.Delta[t]
		}
		return v
	}, completed)
	if vt := unitTimeTerm(p.V, params.Beta); vt != nil {
		completed.Add(completed, vt)
	}
	return completed
}

// TreatmentEffect returns the average gap between observed and completed
// outcomes over the treated entries. With no treated entry the effect is
// undefined: it returns NaN and ErrNoTreatedEntries.
func TreatmentEffect(p *Panel, spec ModelSpec, params Params) (float64, error) {
	return treatmentEffect(p, CompletedMatrix(p, spec, params))
}

func treatmentEffect(p *Panel, completed mat.Matrix) (float64, error) {
	N, T := p.Dims()
	gap, treated := 0.0, 0.0
	for i := 0; i < N; i++ {
		for t := 0; t < T; t++ {
			w := p.W.At(i, t)
			gap += (p.Y.At(i, t) - completed.At(i, t)) * w
			treated += w
		}
	}
	if treated == 0 {
		return math.NaN(), ErrNoTreatedEntries
	}
	return gap / treated, nil
}
