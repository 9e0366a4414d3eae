// Copyright (C) The TAP-seq Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tapseq

import (
	"math"

	"gopkg.in/check.v1"
)

type captureSuite struct{}

var _ = check.Suite(&captureSuite{})

// naiveLogLik recomputes the model likelihood from the published
// formula, independent of the distuv-based implementation.
func naiveLogLik(counts GuideCounts, alpha, lambda float64) float64 {
	fact := func(n int) float64 {
		f := 1.0
		for i := 2; i <= n; i++ {
			f *= float64(i)
		}
		return f
	}
	choose := func(n, k int) float64 {
		return fact(n) / (fact(k) * fact(n-k))
	}
	var ll float64
	for k, n := range counts {
		if n == 0 {
			continue
		}
		var p float64
		for j := k; j <= 15; j++ {
			if j < 1 {
				continue
			}
			p += choose(j, k) *
				math.Pow(alpha, float64(k)) * math.Pow(1-alpha, float64(j-k)) *
				math.Pow(lambda, float64(j)) / (fact(j) * (math.Exp(lambda) - 1))
		}
		ll += float64(n) * math.Log(p)
	}
	return ll
}

func mustGrid(c *check.C, start, stop, step float64) []float64 {
	grid, err := MakeGrid(start, stop, step)
	c.Assert(err, check.IsNil)
	return grid
}

func closeTo(a, b, tol float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return false
	}
	if a == b {
		return true
	}
	return math.Abs(a-b) <= tol*math.Max(math.Abs(a), math.Abs(b))
}

func (s *captureSuite) TestFitAgainstBruteForce(c *check.C) {
	counts := GuideCounts{0: 50, 1: 30, 2: 15, 3: 5}
	alphaGrid := []float64{0.1, 0.5, 0.9}
	lambdaGrid := []float64{0.5, 1.0, 1.5}

	fit, err := FitCaptureModel(counts, alphaGrid, lambdaGrid)
	c.Assert(err, check.IsNil)

	bestLL := math.Inf(-1)
	bestAlpha, bestLambda := 0.0, 0.0
	for _, alpha := range alphaGrid {
		for _, lambda := range lambdaGrid {
			if ll := naiveLogLik(counts, alpha, lambda); ll > bestLL {
				bestLL, bestAlpha, bestLambda = ll, alpha, lambda
			}
		}
	}
	c.Check(fit.Alpha, check.Equals, bestAlpha)
	c.Check(fit.Lambda, check.Equals, bestLambda)
	c.Check(closeTo(fit.LogLik, bestLL, 1e-9), check.Equals, true,
		check.Commentf("fit %v, brute force %v", fit.LogLik, bestLL))

	// the reported maximum dominates the whole surface
	for i := range alphaGrid {
		for j := range lambdaGrid {
			c.Check(fit.Surface.At(i, j) <= fit.LogLik, check.Equals, true)
			c.Check(closeTo(fit.Surface.At(i, j), naiveLogLik(counts, alphaGrid[i], lambdaGrid[j]), 1e-9), check.Equals, true,
				check.Commentf("alpha %v lambda %v", alphaGrid[i], lambdaGrid[j]))
		}
	}
}

func (s *captureSuite) TestFitReturnsGridMembers(c *check.C) {
	counts := GuideCounts{0: 12, 1: 40, 2: 9}
	alphaGrid := mustGrid(c, 0.05, 0.95, 0.05)
	lambdaGrid := mustGrid(c, 0.1, 2, 0.1)
	fit, err := FitCaptureModel(counts, alphaGrid, lambdaGrid)
	c.Assert(err, check.IsNil)

	foundAlpha, foundLambda := false, false
	for _, a := range alphaGrid {
		if a == fit.Alpha {
			foundAlpha = true
		}
	}
	for _, l := range lambdaGrid {
		if l == fit.Lambda {
			foundLambda = true
		}
	}
	c.Check(foundAlpha, check.Equals, true)
	c.Check(foundLambda, check.Equals, true)
}

func (s *captureSuite) TestAllZeroCountsFavorLowAlpha(c *check.C) {
	counts := GuideCounts{0: 100}
	alphaGrid := mustGrid(c, 0.01, 0.99, 0.01)
	lambdaGrid := []float64{0.5, 1.0, 1.5}
	fit, err := FitCaptureModel(counts, alphaGrid, lambdaGrid)
	c.Assert(err, check.IsNil)

	median := alphaGrid[len(alphaGrid)/2]
	c.Check(fit.Alpha <= median, check.Equals, true,
		check.Commentf("alphaHat %v, median alpha %v", fit.Alpha, median))
	c.Check(fit.LogLik >= captureLogLik(counts, median, fit.Lambda), check.Equals, true)
}

func (s *captureSuite) TestCountAboveTruncationBound(c *check.C) {
	counts := GuideCounts{16: 1}
	_, err := FitCaptureModel(counts, []float64{0.5}, []float64{1})
	c.Check(err, check.NotNil)
}

func (s *captureSuite) TestEmptyCounts(c *check.C) {
	_, err := FitCaptureModel(GuideCounts{}, []float64{0.5}, []float64{1})
	c.Check(err, check.NotNil)
}

func (s *captureSuite) TestGridValidation(c *check.C) {
	counts := GuideCounts{1: 10}
	for _, trial := range []struct {
		alphaGrid  []float64
		lambdaGrid []float64
	}{
		{nil, []float64{1}},
		{[]float64{0.5}, nil},
		{[]float64{0.5, math.NaN()}, []float64{1}},
		{[]float64{0.5}, []float64{1, math.Inf(1)}},
		{[]float64{0.5, 0.4}, []float64{1}},
		{[]float64{-0.1, 0.5}, []float64{1}},
		{[]float64{0.5, 1.1}, []float64{1}},
		{[]float64{0.5}, []float64{-1, 1}},
	} {
		_, err := FitCaptureModel(counts, trial.alphaGrid, trial.lambdaGrid)
		c.Check(err, check.NotNil, check.Commentf("%+v", trial))
	}
}

func (s *captureSuite) TestMakeGridRejectsBadRanges(c *check.C) {
	for _, trial := range []struct{ start, stop, step float64 }{
		{0, 1, 0},
		{0, 1, -0.1},
		{0, 1, math.NaN()},
		{2, 1, 0.1},
		{math.NaN(), 1, 0.1},
	} {
		_, err := MakeGrid(trial.start, trial.stop, trial.step)
		c.Check(err, check.NotNil, check.Commentf("%+v", trial))
	}
	grid, err := MakeGrid(1, 1, 0.5)
	c.Assert(err, check.IsNil)
	c.Check(grid, check.DeepEquals, []float64{1.0})
}

func (s *captureSuite) TestLambdaBeyondTruncationBound(c *check.C) {
	counts := GuideCounts{1: 10}
	_, err := FitCaptureModel(counts, []float64{0.5}, []float64{1, 4})
	c.Check(err, check.NotNil)

	// at the bound itself the truncated pmf still carries all the mass
	var sum float64
	for k := 0; k <= captureJMax; k++ {
		sum += guideDetectProb(k, 1, captureLambdaMax)
	}
	c.Check(closeTo(sum, 1, 1e-6), check.Equals, true, check.Commentf("mass %v", sum))
}

func (s *captureSuite) TestLambdaZeroNeverWins(c *check.C) {
	counts := GuideCounts{0: 5, 1: 5}
	fit, err := FitCaptureModel(counts, []float64{0.5}, []float64{0, 1})
	c.Assert(err, check.IsNil)
	c.Check(fit.Lambda, check.Equals, 1.0)
}

func (s *captureSuite) TestDefaultGrids(c *check.C) {
	alpha := DefaultAlphaGrid()
	lambda := DefaultLambdaGrid()
	c.Check(len(alpha), check.Equals, 1001)
	c.Check(alpha[0], check.Equals, 0.0)
	c.Check(closeTo(alpha[len(alpha)-1], 1, 1e-9), check.Equals, true)
	c.Check(len(lambda), check.Equals, 75)
	c.Check(closeTo(lambda[len(lambda)-1], 3, 1e-9), check.Equals, true)
}

func (s *captureSuite) TestDetectProbSumsToOne(c *check.C) {
	// across all k the model is a probability distribution
	for _, alpha := range []float64{0.1, 0.5, 0.9} {
		for _, lambda := range []float64{0.2, 1, 2.5} {
			var sum float64
			for k := 0; k <= captureJMax; k++ {
				sum += guideDetectProb(k, alpha, lambda)
			}
			c.Check(closeTo(sum, 1, 1e-6), check.Equals, true,
				check.Commentf("alpha %v lambda %v sum %v", alpha, lambda, sum))
		}
	}
}
