package mcnnm

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func ones(r, c int) *mat.Dense {
	m := mat.NewDense(r, c, nil)
	m.Apply(func(_, _ int, _ float64) float64 { return 1 }, m)
	return m
}

// --- UpdateL tests ---

// Without shrinkage and with every entry observed, the update reproduces yAdj.
func TestUpdateL_NoPenaltyAllObserved(t *testing.T) {
	rng := rand.New(rand.NewSource(10))
	yAdj := randomDense(rng, 4, 6)
	got := UpdateL(yAdj, mat.NewDense(4, 6, nil), identity(6), ones(4, 6), 0)
	assertMatrixNear(t, "UpdateL", got, yAdj, 1e-12)
}

func TestUpdateL_HeldOutEntriesKeepCurrentValue(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	yAdj := randomDense(rng, 3, 4)
	cur := randomDense(rng, 3, 4)
	o := ones(3, 4)
	o.Set(1, 2, 0)

	got := UpdateL(yAdj, cur, identity(4), o, 0)
	if !almostEqual(got.At(1, 2), cur.At(1, 2), 1e-12) {
		t.Errorf("held-out entry = %v, want current L %v", got.At(1, 2), cur.At(1, 2))
	}
	if !almostEqual(got.At(0, 0), yAdj.At(0, 0), 1e-12) {
		t.Errorf("fitting entry = %v, want yAdj %v", got.At(0, 0), yAdj.At(0, 0))
	}
}

// The threshold scales with the number of fitting entries.
func TestUpdateL_PenaltyScalesWithObservedCount(t *testing.T) {
	yAdj := mat.NewDense(2, 2, []float64{
		10, 0,
		0, 4,
	})
	// |O| = 4, lambda = 1 -> threshold 2
	got := UpdateL(yAdj, mat.NewDense(2, 2, nil), identity(2), ones(2, 2), 1)
	want := mat.NewDense(2, 2, []float64{
		8, 0,
		0, 2,
	})
	assertMatrixNear(t, "UpdateL", got, want, 1e-12)
}

func TestUpdateL_AppliesOmega(t *testing.T) {
	yAdj := mat.NewDense(1, 2, []float64{1, 2})
	omega := mat.NewDense(2, 2, []float64{
		0, 1,
		1, 0,
	})
	got := UpdateL(yAdj, mat.NewDense(1, 2, nil), omega, ones(1, 2), 0)
	assertMatrixNear(t, "UpdateL", got, mat.NewDense(1, 2, []float64{2, 1}), 1e-12)
}

// --- UpdateH tests ---

func TestUpdateH_ExactFitWithoutPenalty(t *testing.T) {
	rng := rand.New(rand.NewSource(12))
	N, T, P, Q := 5, 6, 2, 3
	xTilde := augment(randomDense(rng, N, P), N)
	zTilde := augment(randomDense(rng, T, Q), T)
	yAdj := randomDense(rng, N, T)

	h := UpdateH(xTilde, yAdj, zTilde, 0)
	r, c := h.Dims()
	require.Equal(t, P+N, r)
	require.Equal(t, Q+T, c)

	// X~ and Z~ have full row rank, so the least-squares fit is exact.
	var xh, fit mat.Dense
	xh.Mul(xTilde, h)
	fit.Mul(&xh, zTilde.T())
	assertMatrixNear(t, "X~ H Z~^T", &fit, yAdj, 1e-8)
}

func TestUpdateH_SparsityGrowsWithPenalty(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	xTilde := augment(randomDense(rng, 6, 2), 6)
	zTilde := augment(randomDense(rng, 5, 1), 5)
	yAdj := randomDense(rng, 6, 5)

	nonzero := func(m mat.Matrix) int {
		r, c := m.Dims()
		n := 0
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				if m.At(i, j) != 0 {
					n++
				}
			}
		}
		return n
	}

	prev := nonzero(UpdateH(xTilde, yAdj, zTilde, 0))
	for _, lambda := range []float64{0.01, 0.05, 0.1, 0.5, 1, 10} {
		n := nonzero(UpdateH(xTilde, yAdj, zTilde, lambda))
		if n > prev {
			t.Fatalf("nonzeros at lambda_H=%v = %d, more than %d at a smaller penalty", lambda, n, prev)
		}
		prev = n
	}
	assert.Equal(t, 0, prev, "a huge penalty should zero H")
}

// --- Fixed effects and beta tests ---

func TestUpdateFixedEffectsAndBeta_RecoversAdditiveEffects(t *testing.T) {
	gamma := []float64{1, -2, 3}
	delta := []float64{0.5, -0.25, -0.25} // sums to zero
	yAdj := mat.NewDense(3, 3, nil)
	yAdj.Apply(func(i, t int, _ float64) float64 { return gamma[i] + delta[t] }, yAdj)

	g, d, b := UpdateFixedEffectsAndBeta(yAdj, nil, true, true)
	assert.InDeltaSlice(t, gamma, g, 1e-12)
	assert.InDeltaSlice(t, delta, d, 1e-12)
	assert.Empty(t, b)
}

func TestUpdateFixedEffectsAndBeta_DisabledEffectsAreZero(t *testing.T) {
	yAdj := randomDense(rand.New(rand.NewSource(14)), 4, 3)
	g, d, _ := UpdateFixedEffectsAndBeta(yAdj, nil, false, false)
	assert.Equal(t, make([]float64, 4), g)
	assert.Equal(t, make([]float64, 3), d)

	// time effects alone are plain column means
	_, d, _ = UpdateFixedEffectsAndBeta(yAdj, nil, false, true)
	col := make([]float64, 4)
	for t2 := 0; t2 < 3; t2++ {
		mean := 0.0
		for _, v := range mat.Col(col, t2, yAdj) {
			mean += v / 4
		}
		assert.InDelta(t, mean, d[t2], 1e-12)
	}
}

func TestComputeBeta_RecoversCoefficients(t *testing.T) {
	rng := rand.New(rand.NewSource(15))
	v := []*mat.Dense{randomDense(rng, 4, 5), randomDense(rng, 4, 5)}
	var y, scaled mat.Dense
	y.Scale(2, v[0])
	scaled.Scale(-0.5, v[1])
	y.Add(&y, &scaled)

	beta := ComputeBeta(v, &y)
	assert.InDeltaSlice(t, []float64{2, -0.5}, beta, 1e-9)
}

// Duplicate covariates make the design rank deficient; the minimum-norm
// solution splits the weight evenly.
func TestComputeBeta_RankDeficientDesign(t *testing.T) {
	rng := rand.New(rand.NewSource(16))
	v0 := randomDense(rng, 3, 4)
	var y mat.Dense
	y.Scale(2, v0)

	beta := ComputeBeta([]*mat.Dense{v0, mat.DenseCopyOf(v0)}, &y)
	assert.InDeltaSlice(t, []float64{1, 1}, beta, 1e-9)

	// an all-zero design gives zero coefficients
	beta = ComputeBeta([]*mat.Dense{mat.NewDense(3, 4, nil)}, &y)
	assert.Equal(t, []float64{0}, beta)
}

func TestComputeBeta_EmptyV(t *testing.T) {
	beta := ComputeBeta(nil, mat.NewDense(2, 2, nil))
	assert.NotNil(t, beta)
	assert.Len(t, beta, 0)
}

// A non-finite covariate must surface as NaN coefficients, not as zeros.
func TestComputeBeta_NonFiniteDesign(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	v0 := randomDense(rng, 3, 4)
	v0.Set(1, 2, math.NaN())
	y := randomDense(rng, 3, 4)

	beta := ComputeBeta([]*mat.Dense{v0, randomDense(rng, 3, 4)}, y)
	require.Len(t, beta, 2)
	for j, b := range beta {
		if !math.IsNaN(b) {
			t.Errorf("beta[%d] = %v, want NaN", j, b)
		}
	}

	y.Set(0, 0, math.Inf(1))
	beta = ComputeBeta([]*mat.Dense{randomDense(rng, 3, 4)}, y)
	assert.True(t, math.IsNaN(beta[0]), "infinite target gives NaN beta")
}
