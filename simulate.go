// Copyright (C) The TAP-seq Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tapseq

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// SimulateGuideCounts draws a guides-detected-per-cell histogram
// from the capture model: per cell, a zero-truncated Poisson(lambda)
// multiplicity (rejection sampled) thinned by per-construct capture
// probability alpha. Used to validate FitCaptureModel and to explore
// detectable regimes before an experiment.
func SimulateGuideCounts(ncells int, alpha, lambda float64, src rand.Source) (GuideCounts, error) {
	if ncells <= 0 {
		return nil, fmt.Errorf("ncells must be positive, got %d", ncells)
	}
	if alpha < 0 || alpha > 1 {
		return nil, fmt.Errorf("alpha %v outside [0, 1]", alpha)
	}
	if lambda <= 0 {
		return nil, fmt.Errorf("lambda must be positive, got %v", lambda)
	}
	rng := rand.New(src)
	pois := distuv.Poisson{Lambda: lambda, Src: src}
	counts := GuideCounts{}
	for i := 0; i < ncells; i++ {
		j := 0
		for j < 1 {
			j = int(pois.Rand())
		}
		k := 0
		for c := 0; c < j; c++ {
			if rng.Float64() < alpha {
				k++
			}
		}
		counts[k]++
	}
	return counts, nil
}
