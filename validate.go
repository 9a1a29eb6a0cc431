package mcnnm

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// denomEps pads held-out denominators so an empty block scores 0 instead of NaN.
const denomEps = 1e-10

// fold is one train / held-out split. The training view keeps the full N x T
// shape: held-out units or periods are zero rows or columns, not removed.
type fold struct {
	train *Panel
	init  Params

	// held-out block: rows with heldOut[i] set, periods [c0, c1)
	heldOut []bool
	c0, c1  int
}

// score fits the training view and returns the mean squared error on the
// held-out block entries that are fitting entries (W = 0) of the full panel.
func (f *fold) score(full *Panel, spec ModelSpec, pair LambdaPair, opts FitOptions, metrics *Metrics) float64 {
	res := fit(f.train, spec, pair, f.init, opts)
	metrics.observeFit(res)

	sum, count := 0.0, 0.0
	for i, out := range f.heldOut {
		if !out {
			continue
		}
		for t := f.c0; t < f.c1; t++ {
			if full.W.At(i, t) != 0 {
				continue
			}
			pred := res.L.At(i, t)
			if spec.UseUnitFE {
				pred += res.Gamma[i]
			}
			if spec.UseTimeFE {
				pred += res.Delta[t]
			}
			for j, vj := range full.V {
				pred += vj.At(i, t) * res.Beta[j]
			}
			d := full.Y.At(i, t) - pred
			sum += d * d
			count++
		}
	}
	return sum / (count + denomEps)
}

// withoutUnits returns a copy of p whose held-out rows of Y, W, X and V are zero.
func withoutUnits(p *Panel, heldOut []bool) *Panel {
	zeroRows := func(m *mat.Dense) *mat.Dense {
		if m == nil {
			return nil
		}
		var out mat.Dense
		out.Apply(func(i, _ int, v float64) float64 {
			if heldOut[i] {
				return 0
			}
			return v
		}, m)
		return &out
	}
	train := &Panel{
		Y:     zeroRows(p.Y),
		W:     zeroRows(p.W),
		X:     zeroRows(p.X),
		Z:     p.Z,
		Omega: p.Omega,
	}
	for _, v := range p.V {
		train.V = append(train.V, zeroRows(v))
	}
	return train
}

// beforePeriod returns a copy of p whose periods >= end are zero in Y, W, Z and V.
func beforePeriod(p *Panel, end int) *Panel {
	zeroCols := func(m *mat.Dense) *mat.Dense {
		var out mat.Dense
		out.Apply(func(_, t int, v float64) float64 {
			if t >= end {
				return 0
			}
			return v
		}, m)
		return &out
	}
	train := &Panel{
		Y:     zeroCols(p.Y),
		W:     zeroCols(p.W),
		X:     p.X,
		Omega: p.Omega,
	}
	if p.Z != nil {
		// Z is T x Q, so periods are rows.
		var z mat.Dense
		z.Apply(func(t, _ int, v float64) float64 {
			if t >= end {
				return 0
			}
			return v
		}, p.Z)
		train.Z = &z
	}
	for _, v := range p.V {
		train.V = append(train.V, zeroCols(v))
	}
	return train
}

func newFold(train *Panel, spec ModelSpec, heldOut []bool, c0, c1 int) *fold {
	return &fold{
		train:   train,
		init:    InitializeParams(train, spec),
		heldOut: heldOut,
		c0:      c0,
		c1:      c1,
	}
}

// UnitFoldValidator scores candidates by K-fold cross-validation over units.
// Folds are contiguous blocks of floor(N/K) units; the last fold also takes
// the remainder.
type UnitFoldValidator struct {
	K       int
	Workers int
	Logger  *slog.Logger
	Metrics *Metrics
}

func (v *UnitFoldValidator) Method() ValidationMethod { return MethodCV }

func (v *UnitFoldValidator) folds(p *Panel, spec ModelSpec) []*fold {
	N, T := p.Dims()
	K := v.K
	if K <= 0 {
		K = 5
	}
	if K > N {
		K = N
	}
	size := N / K

	folds := make([]*fold, K)
	for k := 0; k < K; k++ {
		start, end := k*size, (k+1)*size
		if k == K-1 {
			end = N
		}
		heldOut := make([]bool, N)
		for i := start; i < end; i++ {
			heldOut[i] = true
		}
		folds[k] = newFold(withoutUnits(p, heldOut), spec, heldOut, 0, T)
	}
	return folds
}

// Losses returns the average fold loss of every candidate.
func (v *UnitFoldValidator) Losses(ctx context.Context, p *Panel, spec ModelSpec, grid []LambdaPair, opts FitOptions) ([]float64, error) {
	if len(grid) == 0 {
		return nil, ErrEmptyGrid
	}
	folds := v.folds(p, spec)
	losses, err := evaluateGrid(ctx, grid, v.Workers, func(ctx context.Context, pair LambdaPair) (float64, error) {
		total := 0.0
		for _, f := range folds {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
			total += f.score(p, spec, pair, opts, v.Metrics)
		}
		return total / float64(len(folds)), nil
	})
	if err != nil {
		return nil, err
	}
	v.Metrics.observeCandidates(MethodCV, len(grid))
	logCandidates(v.Logger, MethodCV, grid, losses)
	return losses, nil
}

// RollingWindowValidator scores candidates on forward-rolling time splits:
// fold i trains on periods [0, InitialWindow + i*StepSize) and is scored on
// the following Horizon periods.
type RollingWindowValidator struct {
	Window  RollingWindow
	Workers int
	Logger  *slog.Logger
	Metrics *Metrics
}

func (v *RollingWindowValidator) Method() ValidationMethod { return MethodHoldout }

// minHoldoutPeriods is the fewest periods time-based validation accepts.
const minHoldoutPeriods = 5

// recent returns p restricted to its last t periods.
func recent(p *Panel, t int) *Panel {
	N, T := p.Dims()
	from := T - t
	cols := func(m *mat.Dense) *mat.Dense { return mat.DenseCopyOf(m.Slice(0, N, from, T)) }
	out := &Panel{Y: cols(p.Y), W: cols(p.W), X: p.X}
	if p.Z != nil {
		_, q := p.Z.Dims()
		out.Z = mat.DenseCopyOf(p.Z.Slice(from, T, 0, q))
	}
	for _, vj := range p.V {
		out.V = append(out.V, cols(vj))
	}
	if p.Omega != nil {
		out.Omega = mat.DenseCopyOf(p.Omega.Slice(from, T, from, T))
	}
	return out
}

// Losses returns, per candidate, the mean of its finite fold losses, or +Inf
// when no fold has any held-out period.
func (v *RollingWindowValidator) Losses(ctx context.Context, p *Panel, spec ModelSpec, grid []LambdaPair, opts FitOptions) ([]float64, error) {
	if len(grid) == 0 {
		return nil, ErrEmptyGrid
	}
	N, T := p.Dims()
	if T < minHoldoutPeriods {
		return nil, fmt.Errorf("%w: T = %d, need at least %d", ErrInsufficientPeriods, T, minHoldoutPeriods)
	}
	if w := v.Window.MaxWindowSize; w > 0 && w < T {
		p = recent(p, w)
		T = w
	}
	win := v.Window.withDefaults(T)

	// nil entries are folds without held-out periods.
	folds := make([]*fold, win.K)
	all := make([]bool, N)
	for i := range all {
		all[i] = true
	}
	for i := range folds {
		trainEnd := win.InitialWindow + i*win.StepSize
		testEnd := min(trainEnd+win.Horizon, T)
		if testEnd <= trainEnd {
			continue
		}
		folds[i] = newFold(beforePeriod(p, trainEnd), spec, all, trainEnd, testEnd)
	}

	losses, err := evaluateGrid(ctx, grid, v.Workers, func(ctx context.Context, pair LambdaPair) (float64, error) {
		total, n := 0.0, 0
		for _, f := range folds {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
			if f == nil {
				continue
			}
			loss := f.score(p, spec, pair, opts, v.Metrics)
			if math.IsNaN(loss) || math.IsInf(loss, 0) {
				continue
			}
			total += loss
			n++
		}
		if n == 0 {
			return math.Inf(1), nil
		}
		return total / float64(n), nil
	})
	if err != nil {
		return nil, err
	}
	v.Metrics.observeCandidates(MethodHoldout, len(grid))
	logCandidates(v.Logger, MethodHoldout, grid, losses, slog.String("window", win.String()))
	return losses, nil
}

// evaluateGrid scores every candidate on a bounded pool of goroutines. Each
// result lands at its candidate's index, so the output does not depend on
// scheduling.
func evaluateGrid(ctx context.Context, grid []LambdaPair, workers int, score func(context.Context, LambdaPair) (float64, error)) ([]float64, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	losses := make([]float64, len(grid))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, pair := range grid {
		i, pair := i, pair
		g.Go(func() error {
			loss, err := score(gCtx, pair)
			if err != nil {
				return err
			}
			losses[i] = loss
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return losses, nil
}

func logCandidates(logger *slog.Logger, method ValidationMethod, grid []LambdaPair, losses []float64, attrs ...any) {
	if logger == nil {
		return
	}
	for i, pair := range grid {
		logger.Debug("scored candidate",
			slog.String("method", string(method)),
			slog.Float64("lambda_L", pair.L),
			slog.Float64("lambda_H", pair.H),
			slog.Float64("loss", losses[i]))
	}
	logger.Debug("grid evaluated", append([]any{slog.String("method", string(method)), slog.Int("candidates", len(grid))}, attrs...)...)
}

// SelectLambda returns the candidate with the smallest finite loss (the first
// one on ties). When no loss is finite it returns the grid midpoint and
// fallback = true.
func SelectLambda(grid []LambdaPair, losses []float64) (best LambdaPair, fallback bool) {
	finite := make([]float64, len(losses))
	found := false
	for i, l := range losses {
		if math.IsInf(l, 0) || math.IsNaN(l) {
			finite[i] = math.NaN()
			continue
		}
		finite[i] = l
		found = true
	}
	if !found {
		return grid[len(grid)/2], true
	}
	return grid[floats.MinIdx(finite)], false
}

// Validate scores grid with v and selects the best pair.
func Validate(ctx context.Context, v Validator, p *Panel, spec ModelSpec, grid []LambdaPair, opts FitOptions, logger *slog.Logger, metrics *Metrics) (LambdaPair, error) {
	if err := CheckPanel(p); err != nil {
		return LambdaPair{}, err
	}
	losses, err := v.Losses(ctx, p, spec, grid, opts)
	if err != nil {
		return LambdaPair{}, err
	}
	best, fallback := SelectLambda(grid, losses)
	if logger == nil {
		logger = discardLogger
	}
	if fallback {
		metrics.observeFallback(v.Method())
		logger.Warn("no candidate produced a finite loss, using grid midpoint",
			slog.String("method", string(v.Method())),
			slog.Float64("lambda_L", best.L),
			slog.Float64("lambda_H", best.H))
		return best, nil
	}
	logger.Info("selected penalties",
		slog.String("method", string(v.Method())),
		slog.Float64("lambda_L", best.L),
		slog.Float64("lambda_H", best.H))
	return best, nil
}

// SplitLoss scores one pair on a single random split: each unit is held out
// with probability 1 - trainFrac, drawn from a source seeded with seed.
func SplitLoss(p *Panel, spec ModelSpec, pair LambdaPair, opts FitOptions, trainFrac float64, seed int64) (float64, error) {
	if err := CheckPanel(p); err != nil {
		return 0, err
	}
	if trainFrac <= 0 || trainFrac > 1 {
		return 0, fmt.Errorf("%w: train fraction %v not in (0, 1]", ErrInvalidConfig, trainFrac)
	}
	N, T := p.Dims()
	rng := rand.New(rand.NewSource(seed))
	heldOut := make([]bool, N)
	for i := range heldOut {
		heldOut[i] = rng.Float64() >= trainFrac
	}
	f := newFold(withoutUnits(p, heldOut), spec, heldOut, 0, T)
	return f.score(p, spec, pair, opts, nil), nil
}
