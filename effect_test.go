// Copyright (C) The TAP-seq Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tapseq

import (
	"math"

	"gopkg.in/check.v1"
)

type effectSuite struct{}

var _ = check.Suite(&effectSuite{})

func (s *effectSuite) TestComputeEffectSizes(c *check.C) {
	expr := &ExpressionMatrix{
		Genes: []string{"gene1", "gene2"},
		Cells: []string{"c1", "c2", "c3", "c4"},
		Data: []float64{
			9, 9, 1, 1,
			3, 3, 3, 3,
		},
	}
	perturb := &PerturbMatrix{
		Cells:  []string{"c1", "c2", "c3", "c4"},
		Guides: []string{"guideA"},
		Data:   []float64{1, 1, 0, 0},
	}
	effects, err := ComputeEffectSizes(expr, perturb, 1)
	c.Assert(err, check.IsNil)
	c.Assert(effects, check.HasLen, 2)

	// gene1: perturbed mean 9, control mean 1 -> |log2(10/2)|
	want := math.Log2(10.0 / 2)
	got := effects[EffectKey{Guide: "guideA", Gene: "gene1"}]
	c.Check(math.Abs(got-want) < 1e-12, check.Equals, true, check.Commentf("%v want %v", got, want))

	// gene2: no change
	c.Check(effects[EffectKey{Guide: "guideA", Gene: "gene2"}], check.Equals, 0.0)
}

func (s *effectSuite) TestGuideWithoutControls(c *check.C) {
	expr := &ExpressionMatrix{
		Genes: []string{"gene1"},
		Cells: []string{"c1", "c2"},
		Data:  []float64{5, 7},
	}
	perturb := &PerturbMatrix{
		Cells:  []string{"c1", "c2"},
		Guides: []string{"guideA"},
		Data:   []float64{1, 1},
	}
	effects, err := ComputeEffectSizes(expr, perturb, 1)
	c.Assert(err, check.IsNil)
	// every cell perturbed, no comparison possible
	c.Check(effects, check.HasLen, 0)
}

func (s *effectSuite) TestCellMismatch(c *check.C) {
	expr := &ExpressionMatrix{
		Genes: []string{"gene1"},
		Cells: []string{"c1"},
		Data:  []float64{5},
	}
	perturb := &PerturbMatrix{
		Cells:  []string{"c1", "c9"},
		Guides: []string{"guideA"},
		Data:   []float64{1, 0},
	}
	_, err := ComputeEffectSizes(expr, perturb, 1)
	c.Check(err, check.NotNil)
}
