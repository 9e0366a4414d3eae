// Copyright (C) The TAP-seq Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tapseq

import (
	"fmt"
	"math"
	"runtime"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/combin"
	"gonum.org/v1/gonum/stat/distuv"
)

// captureJMax truncates the multiplicity-of-infection sum. For any
// lambda <= captureLambdaMax the zero-truncated Poisson mass beyond
// 15 is below 1e-9, so higher terms cannot move the fit. Larger
// lambda values would leak probability mass past the truncation and
// bias every likelihood, so the lambda grid is bounded accordingly.
const (
	captureJMax      = 15
	captureLambdaMax = 3
)

// CaptureFit holds the maximum-likelihood estimate of the guide
// capture model together with the full log-likelihood surface
// (alpha-by-lambda, same order as the grids) for diagnostic heatmaps.
type CaptureFit struct {
	Alpha      float64
	Lambda     float64
	LogLik     float64
	AlphaGrid  []float64
	LambdaGrid []float64
	Surface    *mat.Dense
}

// guideDetectProb returns P(k guides detected | alpha, lambda) under
// the generative model: true multiplicity j ~ zero-truncated
// Poisson(lambda), each of the j constructs independently captured
// with probability alpha.
func guideDetectProb(k int, alpha, lambda float64) float64 {
	pois := distuv.Poisson{Lambda: lambda}
	norm := -math.Expm1(-lambda) // P(j >= 1)
	jmin := k
	if jmin < 1 {
		jmin = 1
	}
	var p float64
	for j := jmin; j <= captureJMax; j++ {
		p += float64(combin.Binomial(j, k)) *
			math.Pow(alpha, float64(k)) * math.Pow(1-alpha, float64(j-k)) *
			pois.Prob(float64(j)) / norm
	}
	return p
}

// captureLogLik is the observed-count-weighted total log-likelihood
// of the histogram at one grid point. lambda == 0 leaves no
// transduced cells at all, which the zero-truncated model cannot
// express; such grid points score -Inf and never win the argmax.
func captureLogLik(counts GuideCounts, alpha, lambda float64) float64 {
	if lambda == 0 {
		return math.Inf(-1)
	}
	var ll float64
	for k, n := range counts {
		if n == 0 {
			continue
		}
		ll += float64(n) * math.Log(guideDetectProb(k, alpha, lambda))
	}
	return ll
}

func checkGrid(name string, grid []float64, min, max float64) error {
	if len(grid) == 0 {
		return fmt.Errorf("%s grid is empty", name)
	}
	for i, v := range grid {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s grid contains non-finite value at index %d", name, i)
		}
		if v < min || v > max {
			return fmt.Errorf("%s grid value %v outside [%v, %v]", name, v, min, max)
		}
		if i > 0 && v <= grid[i-1] {
			return fmt.Errorf("%s grid is not strictly ascending at index %d", name, i)
		}
	}
	return nil
}

// FitCaptureModel estimates the multiplicity-of-infection rate
// (lambda) and per-guide capture probability (alpha) by dense
// grid-search maximum likelihood. Every grid pair is evaluated; no
// gradient shortcut, because the surface can be multimodal and
// doubles as a diagnostic heatmap. Ties are broken by scan order:
// the first maximum encountered with lambda varying fastest within
// ascending alpha wins.
func FitCaptureModel(counts GuideCounts, alphaGrid, lambdaGrid []float64) (*CaptureFit, error) {
	if counts.Total() == 0 {
		return nil, fmt.Errorf("empty guide-count histogram")
	}
	if max := counts.MaxBin(); max > captureJMax {
		return nil, fmt.Errorf("observed %d guides in one cell, more than the model's multiplicity bound %d", max, captureJMax)
	}
	for k := range counts {
		if k < 0 {
			return nil, fmt.Errorf("negative guide count bin %d", k)
		}
	}
	if err := checkGrid("alpha", alphaGrid, 0, 1); err != nil {
		return nil, err
	}
	if err := checkGrid("lambda", lambdaGrid, 0, captureLambdaMax); err != nil {
		return nil, err
	}

	surface := mat.NewDense(len(alphaGrid), len(lambdaGrid), nil)
	throttle := throttle{Max: runtime.GOMAXPROCS(0)}
	for i := range alphaGrid {
		i := i
		throttle.Acquire()
		go func() {
			defer throttle.Release()
			for j, lambda := range lambdaGrid {
				surface.Set(i, j, captureLogLik(counts, alphaGrid[i], lambda))
			}
		}()
	}
	throttle.Wait()

	fit := &CaptureFit{
		Alpha:      alphaGrid[0],
		Lambda:     lambdaGrid[0],
		LogLik:     surface.At(0, 0),
		AlphaGrid:  alphaGrid,
		LambdaGrid: lambdaGrid,
		Surface:    surface,
	}
	for i := range alphaGrid {
		for j := range lambdaGrid {
			if ll := surface.At(i, j); ll > fit.LogLik {
				fit.Alpha, fit.Lambda, fit.LogLik = alphaGrid[i], lambdaGrid[j], ll
			}
		}
	}
	return fit, nil
}

// MakeGrid returns the ascending sequence start, start+step, ...
// truncated at stop (inclusive within half a step, so accumulated
// float error cannot drop the endpoint). The step must be positive
// and start must not exceed stop, otherwise the sequence would never
// terminate.
func MakeGrid(start, stop, step float64) ([]float64, error) {
	if math.IsNaN(step) || step <= 0 {
		return nil, fmt.Errorf("grid step %v is not positive", step)
	}
	if math.IsNaN(start) || math.IsNaN(stop) || start > stop {
		return nil, fmt.Errorf("grid start %v exceeds stop %v", start, stop)
	}
	var grid []float64
	for i := 0; ; i++ {
		v := start + float64(i)*step
		if v > stop+step/2 {
			break
		}
		if v > stop {
			v = stop
		}
		grid = append(grid, v)
	}
	return grid, nil
}

// DefaultAlphaGrid is the published analysis grid: 0 to 1 step 0.001.
func DefaultAlphaGrid() []float64 {
	grid, _ := MakeGrid(0, 1, 0.001)
	return grid
}

// DefaultLambdaGrid is the published analysis grid: 0.04 to 3 step
// 0.04 (lambda 0 is degenerate under zero truncation).
func DefaultLambdaGrid() []float64 {
	grid, _ := MakeGrid(0.04, 3, 0.04)
	return grid
}
