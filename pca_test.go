// Copyright (C) The TAP-seq Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tapseq

import (
	"math"

	"gopkg.in/check.v1"
)

type pcaSuite struct{}

var _ = check.Suite(&pcaSuite{})

func (s *pcaSuite) TestRunPCADims(c *check.C) {
	expr := &ExpressionMatrix{
		Genes: []string{"g1", "g2", "g3"},
		Cells: []string{"c1", "c2", "c3", "c4"},
		Data: []float64{
			1, 2, 3, 4,
			2, 4, 6, 8,
			0, 1, 0, 1,
		},
	}
	pcs, err := RunPCA(expr, 2)
	c.Assert(err, check.IsNil)
	rows, cols := pcs.Dims()
	c.Check(rows, check.Equals, 4)
	c.Check(cols, check.Equals, 2)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			c.Check(math.IsNaN(pcs.At(i, j)), check.Equals, false)
		}
	}
}

func (s *pcaSuite) TestRunPCAValidation(c *check.C) {
	expr := &ExpressionMatrix{
		Genes: []string{"g1", "g2"},
		Cells: []string{"c1", "c2"},
		Data:  []float64{1, 2, 3, 4},
	}
	_, err := RunPCA(expr, 0)
	c.Check(err, check.NotNil)
	_, err = RunPCA(expr, 3)
	c.Check(err, check.NotNil)

	expr.Data = []float64{1, 2, 3}
	_, err = RunPCA(expr, 1)
	c.Check(err, check.NotNil)
}
