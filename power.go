// Copyright (C) The TAP-seq Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tapseq

import (
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/montanaflynn/stats"
	log "github.com/sirupsen/logrus"
)

type powerCmd struct{}

func (cmd *powerCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	inputFilename := flags.String("i", "", "input DE results `file` (csv or csv.gz)")
	outputFilename := flags.String("o", "-", "output precision-recall curves `file` (csv)")
	auprcFilename := flags.String("auprc", "", "also write per-condition AUPRC summary to `file` (csv)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	log.Print("reading")
	rows, err := LoadDEResults(*inputFilename)
	if err != nil {
		return 1
	}
	log.Printf("computing curves for %d rows", len(rows))
	curves := ComputeCurves(rows)

	var defined []float64
	undefined := 0
	for _, gc := range curves {
		if math.IsNaN(gc.AUPRC) {
			undefined++
		} else {
			defined = append(defined, gc.AUPRC)
		}
	}
	if median, err := stats.Median(defined); err == nil {
		log.Printf("%d conditions, median AUPRC %.4f (%d undefined)", len(curves), median, undefined)
	}

	err = writeTo(*outputFilename, stdout, func(w io.Writer) error {
		return WriteGroupedCurves(w, curves)
	})
	if err != nil {
		return 1
	}
	if *auprcFilename != "" {
		err = writeTo(*auprcFilename, stdout, func(w io.Writer) error {
			return WriteAUPRC(w, curves)
		})
		if err != nil {
			return 1
		}
	}
	return 0
}

type sensitivityCmd struct {
	fdr       float64
	threshold float64
}

func (cmd *sensitivityCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	inputFilename := flags.String("i", "", "input DE results `file` (csv or csv.gz)")
	exprFilename := flags.String("expr", "", "baseline expression matrix `file` for ground-truth effect sizes (csv or csv.gz)")
	perturbFilename := flags.String("perturb", "", "perturbation matrix `file`, required with -expr")
	outputFilename := flags.String("o", "-", "output sensitivity summary `file` (csv)")
	flags.Float64Var(&cmd.fdr, "fdr", 0.05, "adjusted p-value cutoff for calling a hit")
	flags.Float64Var(&cmd.threshold, "threshold", 1, "perturbation matrix entry threshold")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	log.Print("reading")
	rows, err := LoadDEResults(*inputFilename)
	if err != nil {
		return 1
	}
	var effects EffectSizes
	if *exprFilename != "" {
		if *perturbFilename == "" {
			err = fmt.Errorf("-expr requires -perturb")
			return 2
		}
		var expr *ExpressionMatrix
		expr, err = LoadExpressionMatrix(*exprFilename)
		if err != nil {
			return 1
		}
		var perturb *PerturbMatrix
		perturb, err = LoadPerturbMatrix(*perturbFilename)
		if err != nil {
			return 1
		}
		effects, err = ComputeEffectSizes(expr, perturb, cmd.threshold)
		if err != nil {
			return 1
		}
		log.Printf("computed %d ground-truth effect sizes", len(effects))
	}

	recs, err := cmd.summarize(rows, effects)
	if err != nil {
		return 1
	}
	err = writeTo(*outputFilename, stdout, func(w io.Writer) error {
		return WriteSensitivityTable(w, recs)
	})
	if err != nil {
		return 1
	}
	return 0
}

// summarize fits one dose-response curve per condition and records
// its sensitivity. Effect magnitudes come from the baseline
// expression comparison when available, else from each row's
// observed fold change; either way the regression runs on
// log10-magnitude.
func (cmd *sensitivityCmd) summarize(rows []DETestResult, effects EffectSizes) ([]SensitivityRecord, error) {
	groups := map[GroupKey][]DoseObs{}
	var order []GroupKey
	skipped := 0
	for _, r := range rows {
		magnitude := math.Abs(r.LogFC)
		if effects != nil {
			var ok bool
			magnitude, ok = effects[EffectKey{Guide: r.Guide, Gene: r.Gene}]
			if !ok {
				skipped++
				continue
			}
		}
		if magnitude <= 0 {
			skipped++
			continue
		}
		key := GroupKey{Assay: r.Assay, NCells: r.NCells, Reads: r.Reads}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], DoseObs{
			Guide:        r.Guide,
			Gene:         r.Gene,
			LogMagnitude: math.Log10(magnitude),
			Hit:          r.PValueAdj < cmd.fdr,
		})
	}
	if skipped > 0 {
		log.Printf("skipped %d rows without usable effect size", skipped)
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("no usable rows")
	}

	recs := make([]SensitivityRecord, len(order))
	for i, key := range order {
		curve, err := FitDoseResponse(groups[key])
		if err != nil {
			return nil, fmt.Errorf("%s/%d cells/%d reads: %w", key.Assay, key.NCells, key.Reads, err)
		}
		recs[i] = SensitivityRecord{
			Assay:       key.Assay,
			NCells:      key.NCells,
			Reads:       key.Reads,
			Sensitivity: Sensitivity(curve),
		}
	}
	return recs, nil
}

type costReductionCmd struct {
	assayA string
	assayB string
	from   float64
	to     float64
	step   float64
}

func (cmd *costReductionCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "", "input sensitivity summary `file` (csv, from the sensitivity command)")
	outputFilename := flags.String("o", "-", "output cost-reduction table `file` (csv)")
	flags.StringVar(&cmd.assayA, "a", "", "reference `assay` name")
	flags.StringVar(&cmd.assayB, "b", "", "comparison `assay` name")
	flags.Float64Var(&cmd.from, "from", -1, "lowest sensitivity level to match")
	flags.Float64Var(&cmd.to, "to", 0, "highest sensitivity level to match")
	flags.Float64Var(&cmd.step, "step", 0.002, "sensitivity level spacing")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	if cmd.assayA == "" || cmd.assayB == "" {
		err = fmt.Errorf("-a and -b are required")
		return 2
	}

	recs, err := LoadSensitivityTable(*inputFilename)
	if err != nil {
		return 1
	}
	pointsA := depthPoints(recs, cmd.assayA)
	pointsB := depthPoints(recs, cmd.assayB)
	if len(pointsA) == 0 || len(pointsB) == 0 {
		err = fmt.Errorf("no sensitivity records for %q and/or %q", cmd.assayA, cmd.assayB)
		return 1
	}
	levels, err := MakeGrid(cmd.from, cmd.to, cmd.step)
	if err != nil {
		return 2
	}
	ratios := CostReduction(pointsA, pointsB, levels)

	matched := 0
	for _, r := range ratios {
		if !math.IsNaN(r.Ratio) {
			matched++
		}
	}
	log.Printf("matched %d of %d sensitivity levels", matched, len(ratios))

	err = writeTo(*outputFilename, stdout, func(w io.Writer) error {
		return WriteCostRatios(w, cmd.assayA, cmd.assayB, ratios)
	})
	if err != nil {
		return 1
	}
	return 0
}

// depthPoints extracts one assay's total-depth/sensitivity pairs.
// Total depth is reads per cell times cells.
func depthPoints(recs []SensitivityRecord, assay string) []DepthPoint {
	var out []DepthPoint
	for _, r := range recs {
		if r.Assay != assay {
			continue
		}
		out = append(out, DepthPoint{
			Reads:       float64(r.Reads) * float64(r.NCells),
			Sensitivity: r.Sensitivity,
		})
	}
	return out
}

func writeTo(filename string, stdout io.Writer, write func(io.Writer) error) error {
	if filename == "-" {
		return write(stdout)
	}
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := write(f); err != nil {
		return err
	}
	return f.Close()
}
