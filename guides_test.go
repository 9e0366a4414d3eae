// Copyright (C) The TAP-seq Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tapseq

import (
	"gopkg.in/check.v1"
)

type guidesSuite struct{}

var _ = check.Suite(&guidesSuite{})

func (s *guidesSuite) TestRoundTripUniformCells(c *check.C) {
	// 7 cells, each carrying exactly 3 of 5 guides
	const ncells, nguides, carried = 7, 5, 3
	m := &PerturbMatrix{}
	for i := 0; i < ncells; i++ {
		m.Cells = append(m.Cells, "cell"+string(rune('A'+i)))
	}
	for i := 0; i < nguides; i++ {
		m.Guides = append(m.Guides, "guide"+string(rune('A'+i)))
	}
	m.Data = make([]float64, ncells*nguides)
	for cell := 0; cell < ncells; cell++ {
		for g := 0; g < carried; g++ {
			m.Data[cell*nguides+(cell+g)%nguides] = 1
		}
	}

	counts, err := CountGuidesPerCell(m, 1)
	c.Assert(err, check.IsNil)
	c.Check(counts, check.DeepEquals, GuideCounts{carried: ncells})
	c.Check(counts.Total(), check.Equals, ncells)
	c.Check(counts.MaxBin(), check.Equals, carried)
}

func (s *guidesSuite) TestThresholdOnCountMatrix(c *check.C) {
	m := &PerturbMatrix{
		Cells:  []string{"c1", "c2"},
		Guides: []string{"g1", "g2"},
		Data: []float64{
			5, 0.4,
			0, 2,
		},
	}
	counts, err := CountGuidesPerCell(m, 1)
	c.Assert(err, check.IsNil)
	c.Check(counts, check.DeepEquals, GuideCounts{1: 2})

	counts, err = CountGuidesPerCell(m, 0.1)
	c.Assert(err, check.IsNil)
	c.Check(counts, check.DeepEquals, GuideCounts{1: 1, 2: 1})
}

func (s *guidesSuite) TestDropZeroBin(c *check.C) {
	counts := GuideCounts{0: 10, 1: 5, 2: 1}
	dropped := counts.DropZeroBin()
	c.Check(dropped, check.DeepEquals, GuideCounts{1: 5, 2: 1})
	c.Check(dropped.Total(), check.Equals, 6)
	// original untouched
	c.Check(counts.Total(), check.Equals, 16)
	c.Check(counts.Bins(), check.DeepEquals, []int{0, 1, 2})
}

func (s *guidesSuite) TestEmptyMatrix(c *check.C) {
	_, err := CountGuidesPerCell(&PerturbMatrix{}, 1)
	c.Check(err, check.NotNil)

	_, err = CountGuidesPerCell(&PerturbMatrix{Cells: []string{"c"}, Guides: []string{"g"}}, 1)
	c.Check(err, check.NotNil)
}
