// Copyright (C) The TAP-seq Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tapseq

import (
	"math"
	"runtime"
	"sort"
)

// DETestResult is one differential-expression test outcome for a
// (guide, gene) pair under one resampling condition. IntendedTarget
// marks the guide's canonical target gene, the ground-truth positive
// label for precision/recall.
type DETestResult struct {
	Guide          string  `csv:"guide"`
	Gene           string  `csv:"gene"`
	PValue         float64 `csv:"p_val"`
	PValueAdj      float64 `csv:"p_val_adj"`
	LogFC          float64 `csv:"log_fc"`
	NCells         int     `csv:"ncells"`
	Reads          int     `csv:"reads"`
	Assay          string  `csv:"assay"`
	Test           string  `csv:"test_id"`
	IntendedTarget bool    `csv:"intended_target"`
}

// Score is the detection score used for threshold sweeps. A p-value
// of zero scores +Inf, which sorts above everything else.
func (r DETestResult) Score() float64 {
	return -math.Log10(r.PValue)
}

// PRPoint is one point of a precision-recall curve, at the threshold
// "score >= Score is called positive".
type PRPoint struct {
	Score     float64
	Precision float64
	Recall    float64
}

type PRCurve []PRPoint

// ComputeCurve sweeps every distinct score in rows as a candidate
// threshold and computes precision and recall at each. A threshold
// with zero positive calls yields NaN precision (never 0, which
// would bias the area estimate); a group with no true positives
// yields NaN recall throughout.
func ComputeCurve(rows []DETestResult) PRCurve {
	if len(rows) == 0 {
		return nil
	}
	sorted := make([]DETestResult, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score() > sorted[j].Score() })

	totalPos := 0
	for _, r := range sorted {
		if r.IntendedTarget {
			totalPos++
		}
	}

	var curve PRCurve
	tp := 0
	for i, r := range sorted {
		if r.IntendedTarget {
			tp++
		}
		// emit one point per distinct score, after the last row
		// sharing it
		if i+1 < len(sorted) && sorted[i+1].Score() == r.Score() {
			continue
		}
		called := i + 1
		precision := math.NaN()
		if called > 0 {
			precision = float64(tp) / float64(called)
		}
		recall := math.NaN()
		if totalPos > 0 {
			recall = float64(tp) / float64(totalPos)
		}
		curve = append(curve, PRPoint{Score: r.Score(), Precision: precision, Recall: recall})
	}
	return curve
}

// AreaUnderCurve integrates precision over recall by the trapezoid
// rule. Points are ordered by recall first, so the result does not
// depend on the sweep direction of the input. Pairs touching a NaN
// on either side are skipped rather than poisoning the sum; if no
// pair contributes (e.g. no true positives anywhere), the area is
// NaN. A single point has no interval and integrates to 0.
func AreaUnderCurve(curve PRCurve) float64 {
	if len(curve) < 2 {
		return 0
	}
	pts := make(PRCurve, len(curve))
	copy(pts, curve)
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].Recall < pts[j].Recall })

	var area float64
	contributed := false
	for i := 0; i+1 < len(pts); i++ {
		x0, y0 := pts[i].Recall, pts[i].Precision
		x1, y1 := pts[i+1].Recall, pts[i+1].Precision
		if math.IsNaN(x0) || math.IsNaN(y0) || math.IsNaN(x1) || math.IsNaN(y1) {
			continue
		}
		area += (x1 - x0) * (y0 + y1) / 2
		contributed = true
	}
	if !contributed {
		return math.NaN()
	}
	return area
}

// GroupKey identifies one resampling condition.
type GroupKey struct {
	Assay  string
	NCells int
	Reads  int
}

// GroupedCurve is the precision-recall curve and its area for one
// (assay, ncells, reads) condition.
type GroupedCurve struct {
	GroupKey
	Curve PRCurve
	AUPRC float64
}

// ComputeCurves groups rows by condition and computes each group's
// curve and AUPRC. Groups are independent and evaluated in parallel;
// the result is ordered by (assay, ncells, reads) regardless of
// scheduling.
func ComputeCurves(rows []DETestResult) []GroupedCurve {
	groups := map[GroupKey][]DETestResult{}
	for _, r := range rows {
		key := GroupKey{Assay: r.Assay, NCells: r.NCells, Reads: r.Reads}
		groups[key] = append(groups[key], r)
	}
	keys := make([]GroupKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Assay != keys[j].Assay {
			return keys[i].Assay < keys[j].Assay
		}
		if keys[i].NCells != keys[j].NCells {
			return keys[i].NCells < keys[j].NCells
		}
		return keys[i].Reads < keys[j].Reads
	})

	out := make([]GroupedCurve, len(keys))
	throttle := throttle{Max: runtime.GOMAXPROCS(0)}
	for i, key := range keys {
		i, key := i, key
		throttle.Acquire()
		go func() {
			defer throttle.Release()
			curve := ComputeCurve(groups[key])
			out[i] = GroupedCurve{GroupKey: key, Curve: curve, AUPRC: AreaUnderCurve(curve)}
		}()
	}
	throttle.Wait()
	return out
}
