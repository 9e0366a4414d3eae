// Copyright (C) The TAP-seq Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tapseq

import (
	"fmt"
	"math"
)

// ExpressionMatrix is a genes x cells table of baseline
// (non-downsampled) expression values.
type ExpressionMatrix struct {
	Genes []string
	Cells []string
	Data  []float64 // row-major, len(Genes)*len(Cells)
}

func (m *ExpressionMatrix) at(gene, cell int) float64 {
	return m.Data[gene*len(m.Cells)+cell]
}

// EffectKey identifies one perturbation-gene pair.
type EffectKey struct {
	Guide string
	Gene  string
}

// EffectSizes maps each (guide, gene) pair to the absolute log2 fold
// change between perturbed and unperturbed cells in the baseline
// data. Built once, immutable afterwards; pipeline stages receive it
// by reference instead of recomputing per call.
type EffectSizes map[EffectKey]float64

// ComputeEffectSizes derives ground-truth effect magnitudes from the
// baseline expression matrix: for every guide, cells carrying it
// (perturbation entry >= threshold) are compared against all cells
// not carrying it, per gene, as
// |log2((meanPerturbed+1)/(meanControl+1))|. Pairs
// where either side has no cells are skipped.
func ComputeEffectSizes(expr *ExpressionMatrix, perturb *PerturbMatrix, threshold float64) (EffectSizes, error) {
	if len(expr.Genes) == 0 || len(expr.Cells) == 0 {
		return nil, fmt.Errorf("empty expression matrix")
	}
	if len(expr.Data) != len(expr.Genes)*len(expr.Cells) {
		return nil, fmt.Errorf("expression matrix has %d entries, want %d", len(expr.Data), len(expr.Genes)*len(expr.Cells))
	}
	cellIndex := map[string]int{}
	for i, id := range expr.Cells {
		cellIndex[id] = i
	}

	out := EffectSizes{}
	for g, guide := range perturb.Guides {
		var pert, ctrl []int
		for c, cellID := range perturb.Cells {
			col, ok := cellIndex[cellID]
			if !ok {
				return nil, fmt.Errorf("cell %q in perturbation matrix missing from expression matrix", cellID)
			}
			if perturb.at(c, g) >= threshold {
				pert = append(pert, col)
			} else {
				ctrl = append(ctrl, col)
			}
		}
		if len(pert) == 0 || len(ctrl) == 0 {
			continue
		}
		for gi, gene := range expr.Genes {
			mp := meanAt(expr, gi, pert)
			mc := meanAt(expr, gi, ctrl)
			out[EffectKey{Guide: guide, Gene: gene}] = math.Abs(math.Log2((mp + 1) / (mc + 1)))
		}
	}
	return out, nil
}

func meanAt(expr *ExpressionMatrix, gene int, cells []int) float64 {
	var sum float64
	for _, c := range cells {
		sum += expr.at(gene, c)
	}
	return sum / float64(len(cells))
}
