package mcnnm

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Bounds of the proposed penalty grid.
const (
	lambdaMin = 1e-3
	lambdaMax = 1.0
)

// ProposeLambda returns n log-spaced penalties from 1e-3 to 1. A single value
// grid is {1e-3}.
func ProposeLambda(n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{lambdaMin}
	}
	return floats.LogSpan(make([]float64, n), lambdaMin, lambdaMax)
}

// LambdaGrid returns the cartesian product of the two penalty lists, with
// lambda_L varying slowest: index i*len(hs)+j holds (ls[i], hs[j]).
func LambdaGrid(ls, hs []float64) []LambdaPair {
	grid := make([]LambdaPair, 0, len(ls)*len(hs))
	for _, l := range ls {
		for _, h := range hs {
			grid = append(grid, LambdaPair{L: l, H: h})
		}
	}
	return grid
}

// RollingWindow describes the folds of time-based validation. Zero fields are
// filled from the data by TimeValidationDefaults.
type RollingWindow struct {
	InitialWindow int
	StepSize      int
	Horizon       int
	K             int
	// Only the most recent MaxWindowSize periods are used when > 0
	MaxWindowSize int
}

// TimeValidationDefaults derives a rolling window from T periods and K folds:
// initial window 80% of T, step (T - initial window) / K (at least 1) and a
// horizon equal to the step.
func TimeValidationDefaults(T, K int) RollingWindow {
	if K <= 0 {
		K = 5
	}
	iw := int(0.8 * float64(T))
	step := (T - iw) / K
	if step < 1 {
		step = 1
	}
	return RollingWindow{InitialWindow: iw, StepSize: step, Horizon: step, K: K}
}

// withDefaults fills zero fields of w from the defaults for T periods.
func (w RollingWindow) withDefaults(T int) RollingWindow {
	def := TimeValidationDefaults(T, w.K)
	if w.K <= 0 {
		w.K = def.K
	}
	if w.InitialWindow <= 0 {
		w.InitialWindow = def.InitialWindow
	}
	if w.StepSize <= 0 {
		w.StepSize = def.StepSize
	}
	if w.Horizon <= 0 {
		w.Horizon = w.StepSize
	}
	return w
}

func (w RollingWindow) String() string {
	return fmt.Sprintf("initial_window=%d step=%d horizon=%d K=%d max_window=%d",
		w.InitialWindow, w.StepSize, w.Horizon, w.K, w.MaxWindowSize)
}
