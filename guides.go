// Copyright (C) The TAP-seq Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tapseq

import (
	"fmt"
	"sort"
)

// PerturbMatrix is a cells x guides indicator matrix. Entries are
// either 0/1 presence calls or raw guide UMI counts that get
// thresholded to presence downstream.
type PerturbMatrix struct {
	Cells  []string
	Guides []string
	Data   []float64 // row-major, len(Cells)*len(Guides)
}

func (m *PerturbMatrix) at(cell, guide int) float64 {
	return m.Data[cell*len(m.Guides)+guide]
}

// GuideCounts is the histogram of guides-detected-per-cell: bin k
// holds the number of cells in which exactly k distinct guides were
// detected.
type GuideCounts map[int]int

// CountGuidesPerCell collapses a perturbation matrix into a
// GuideCounts histogram. An entry counts as a detected guide when it
// is >= threshold (use threshold 1 for 0/1 matrices).
func CountGuidesPerCell(m *PerturbMatrix, threshold float64) (GuideCounts, error) {
	if len(m.Cells) == 0 || len(m.Guides) == 0 {
		return nil, fmt.Errorf("perturbation matrix is empty (%d cells x %d guides)", len(m.Cells), len(m.Guides))
	}
	if len(m.Data) != len(m.Cells)*len(m.Guides) {
		return nil, fmt.Errorf("perturbation matrix has %d entries, want %d", len(m.Data), len(m.Cells)*len(m.Guides))
	}
	counts := GuideCounts{}
	for cell := range m.Cells {
		k := 0
		for guide := range m.Guides {
			if m.at(cell, guide) >= threshold {
				k++
			}
		}
		counts[k]++
	}
	return counts, nil
}

// Bins returns the observed k values in ascending order.
func (gc GuideCounts) Bins() []int {
	bins := make([]int, 0, len(gc))
	for k := range gc {
		bins = append(bins, k)
	}
	sort.Ints(bins)
	return bins
}

// Total returns the number of cells in the histogram.
func (gc GuideCounts) Total() int {
	n := 0
	for _, c := range gc {
		n += c
	}
	return n
}

// MaxBin returns the largest k with a nonzero count, or -1 for an
// empty histogram.
func (gc GuideCounts) MaxBin() int {
	max := -1
	for k, c := range gc {
		if c > 0 && k > max {
			max = k
		}
	}
	return max
}

// DropZeroBin returns a copy without the k=0 bin, for experiments
// that exclude cells with no detected guide before fitting.
func (gc GuideCounts) DropZeroBin() GuideCounts {
	out := GuideCounts{}
	for k, c := range gc {
		if k != 0 {
			out[k] = c
		}
	}
	return out
}
