// Copyright (C) The TAP-seq Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tapseq

import (
	"fmt"
	"io"
	"log"
	"math"
	"sort"

	"github.com/kshedden/statmodel/glm"
	"github.com/kshedden/statmodel/statmodel"
	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"
)

var glmConfig = &glm.Config{
	Family:         glm.NewFamily(glm.BinomialFamily),
	FitMethod:      "IRLS",
	ConcurrentIRLS: 1000,
	Log:            log.New(io.Discard, "", 0),
}

// doseCurvePoints is the evaluation grid resolution for fitted
// logistic curves.
const doseCurvePoints = 200

// costMatchTol rejects nearest-neighbor matches farther than this
// from the requested sensitivity level, so a sparse curve cannot
// fake coverage of a level it never reaches.
const costMatchTol = 0.002

// DoseObs is one resampling repeat's outcome for a (guide, gene)
// pair: the log-magnitude of the true expression change and whether
// this repeat called the pair significant.
type DoseObs struct {
	Guide        string
	Gene         string
	LogMagnitude float64
	Hit          bool
}

// LogisticCurve is a fitted dose-response curve evaluated on a fixed
// ascending grid spanning the observed magnitude range. A failed or
// degenerate fit has NaN coefficients and probabilities.
type LogisticCurve struct {
	X         []float64
	P         []float64
	Intercept float64
	Slope     float64
	N         int // aggregated (guide, gene) units behind the fit
}

// doseUnit accumulates repeats for one (guide, gene) pair. Repeats
// may carry slightly different magnitudes (per-repeat fold changes
// vary across downsamplings), so the unit's magnitude is their mean.
type doseUnit struct {
	magnitudeSum float64
	hits         int
	repeats      int
}

func (u *doseUnit) magnitude() float64 {
	return u.magnitudeSum / float64(u.repeats)
}

// FitDoseResponse aggregates repeats to per-(guide, gene) detection
// proportions (averaging the repeats' magnitudes) and fits a
// binomial-family logistic regression of proportion against
// log-magnitude. The proportion response with
// replicated trials is the standard binomial GLM setup; IRLS accepts
// the continuous response directly.
func FitDoseResponse(obs []DoseObs) (LogisticCurve, error) {
	if len(obs) == 0 {
		return LogisticCurve{}, fmt.Errorf("no dose-response observations")
	}
	type unitKey struct{ guide, gene string }
	units := map[unitKey]*doseUnit{}
	var order []unitKey
	for _, o := range obs {
		if math.IsNaN(o.LogMagnitude) || math.IsInf(o.LogMagnitude, 0) {
			return LogisticCurve{}, fmt.Errorf("non-finite magnitude for %s/%s", o.Guide, o.Gene)
		}
		key := unitKey{o.Guide, o.Gene}
		u := units[key]
		if u == nil {
			u = &doseUnit{}
			units[key] = u
			order = append(order, key)
		}
		u.magnitudeSum += o.LogMagnitude
		if o.Hit {
			u.hits++
		}
		u.repeats++
	}

	xmin, xmax := math.Inf(1), math.Inf(-1)
	magnitude := make([]statmodel.Dtype, 0, len(order))
	proportion := make([]statmodel.Dtype, 0, len(order))
	constants := make([]statmodel.Dtype, 0, len(order))
	for _, key := range order {
		u := units[key]
		m := u.magnitude()
		magnitude = append(magnitude, m)
		proportion = append(proportion, float64(u.hits)/float64(u.repeats))
		constants = append(constants, 1)
		if m < xmin {
			xmin = m
		}
		if m > xmax {
			xmax = m
		}
	}

	curve := LogisticCurve{
		X:         curveGrid(xmin, xmax),
		Intercept: math.NaN(),
		Slope:     math.NaN(),
		N:         len(order),
	}
	curve.P = make([]float64, len(curve.X))
	for i := range curve.P {
		curve.P[i] = math.NaN()
	}
	if xmin == xmax {
		// one distinct magnitude cannot identify a slope
		return curve, nil
	}

	intercept, slope := fitLogistic(proportion, constants, magnitude)
	curve.Intercept, curve.Slope = intercept, slope
	for i, x := range curve.X {
		curve.P[i] = invLogit(intercept + slope*x)
	}
	return curve, nil
}

// fitLogistic runs the binomial GLM and returns NaN coefficients on
// a degenerate system instead of panicking.
func fitLogistic(proportion, constants, magnitude []statmodel.Dtype) (intercept, slope float64) {
	defer func() {
		if recover() != nil {
			// typically "matrix singular or near-singular with condition number +Inf"
			intercept, slope = math.NaN(), math.NaN()
		}
	}()
	data := [][]statmodel.Dtype{proportion, constants, magnitude}
	names := []string{"hit", "constants", "magnitude"}
	dataset := statmodel.NewDataset(data, names)
	model, err := glm.NewGLM(dataset, "hit", names[1:], glmConfig)
	if err != nil {
		return math.NaN(), math.NaN()
	}
	result := model.Fit()
	params := result.Params()
	return params[0], params[1]
}

func invLogit(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func curveGrid(min, max float64) []float64 {
	grid := make([]float64, doseCurvePoints)
	for i := range grid {
		grid[i] = min + (max-min)*float64(i)/float64(doseCurvePoints-1)
	}
	return grid
}

// Sensitivity is the minimum detectable effect size: the first grid
// x at which the fitted detection probability exceeds 0.5. NaN when
// the curve never crosses 0.5, which happens at depths where even
// large effects are unreliable; callers must treat NaN as "not
// reached", never as 0.
func Sensitivity(curve LogisticCurve) float64 {
	for i, p := range curve.P {
		if p > 0.5 {
			return curve.X[i]
		}
	}
	return math.NaN()
}

// DepthPoint relates one sequencing condition's total read depth to
// the sensitivity achieved there.
type DepthPoint struct {
	Reads       float64
	Sensitivity float64
}

// CostRatio reports the read depth each protocol needs to reach one
// sensitivity level, and their ratio. Unmatched levels carry NaN.
type CostRatio struct {
	Sensitivity float64
	ReadsA      float64
	ReadsB      float64
	Ratio       float64
}

// CostReduction compares the read depth two protocols need to reach
// the same sensitivity. Each protocol's depth-vs-sensitivity points
// are smoothed by local regression, then every requested level is
// matched to its nearest smoothed sensitivity; matches farther than
// costMatchTol are rejected and propagate as NaN, not errors.
func CostReduction(a, b []DepthPoint, levels []float64) []CostRatio {
	smoothA := smoothDepthCurve(a)
	smoothB := smoothDepthCurve(b)
	out := make([]CostRatio, len(levels))
	for i, level := range levels {
		readsA := readsAtSensitivity(smoothA, level)
		readsB := readsAtSensitivity(smoothB, level)
		out[i] = CostRatio{
			Sensitivity: level,
			ReadsA:      readsA,
			ReadsB:      readsB,
			Ratio:       readsB / readsA,
		}
	}
	return out
}

// smoothDepthCurve drops undefined sensitivities, orders by depth,
// and replaces each sensitivity with its local-regression fit.
func smoothDepthCurve(points []DepthPoint) []DepthPoint {
	kept := make([]DepthPoint, 0, len(points))
	for _, p := range points {
		if !math.IsNaN(p.Sensitivity) && !math.IsNaN(p.Reads) {
			kept = append(kept, p)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Reads < kept[j].Reads })
	if len(kept) < 3 {
		return kept
	}
	x := make([]float64, len(kept))
	y := make([]float64, len(kept))
	for i, p := range kept {
		x[i] = p.Reads
		y[i] = p.Sensitivity
	}
	smoothed := loessSmooth(x, y, 0.75)
	out := make([]DepthPoint, len(kept))
	for i := range kept {
		out[i] = DepthPoint{Reads: x[i], Sensitivity: smoothed[i]}
	}
	return out
}

func readsAtSensitivity(points []DepthPoint, level float64) float64 {
	best := math.NaN()
	bestDist := math.Inf(1)
	for _, p := range points {
		if d := math.Abs(p.Sensitivity - level); d < bestDist {
			bestDist = d
			best = p.Reads
		}
	}
	if bestDist > costMatchTol {
		return math.NaN()
	}
	return best
}

// loessSmooth is local linear regression with tricube weights over a
// span fraction of the points, evaluated at each input x. The
// bandwidth never shrinks below the median point spacing, so
// duplicated x values cannot collapse a window to one point.
func loessSmooth(x, y []float64, span float64) []float64 {
	n := len(x)
	window := int(math.Ceil(span * float64(n)))
	if window < 3 {
		window = 3
	}
	if window > n {
		window = n
	}
	spacing := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		spacing = append(spacing, x[i]-x[i-1])
	}
	minBandwidth, _ := stats.Median(spacing)

	fitted := make([]float64, n)
	dist := make([]float64, n)
	weights := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			dist[j] = math.Abs(x[j] - x[i])
		}
		sorted := append([]float64(nil), dist...)
		sort.Float64s(sorted)
		h := sorted[window-1]
		if h < minBandwidth {
			h = minBandwidth
		}
		if h <= 0 {
			h = sorted[n-1]
		}
		if h <= 0 {
			// every x identical; nothing to regress against
			fitted[i] = stat.Mean(y, nil)
			continue
		}
		for j := 0; j < n; j++ {
			weights[j] = tricube(dist[j] / h)
		}
		alpha, beta := stat.LinearRegression(x, y, weights, false)
		fitted[i] = alpha + beta*x[i]
	}
	return fitted
}

func tricube(u float64) float64 {
	if u >= 1 {
		return 0
	}
	c := 1 - u*u*u
	return c * c * c
}
