// Copyright (C) The TAP-seq Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tapseq

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/klauspost/pgzip"
)

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

type tableReader struct {
	io.Reader
	file *os.File
	gz   *pgzip.Reader
}

func (r *tableReader) Close() error {
	if r.gz != nil {
		r.gz.Close()
	}
	return r.file.Close()
}

// openTable opens a CSV table, transparently decompressing *.gz.
// Errors identify the resource; callers fail fast, no retries.
func openTable(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if !strings.HasSuffix(path, ".gz") {
		return &tableReader{Reader: f, file: f}, nil
	}
	gz, err := pgzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &tableReader{Reader: gz, file: f, gz: gz}, nil
}

// LoadDEResults reads differential-expression test rows from a CSV
// table with columns matching the DETestResult csv tags.
func LoadDEResults(path string) ([]DETestResult, error) {
	in, err := openTable(path)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	var rows []DETestResult
	if err := gocsv.Unmarshal(in, &rows); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: no rows", path)
	}
	return rows, nil
}

// LoadPerturbMatrix reads a cells x guides matrix: header "cell"
// followed by guide names, one row per cell.
func LoadPerturbMatrix(path string) (*PerturbMatrix, error) {
	header, ids, data, err := loadMatrix(path)
	if err != nil {
		return nil, err
	}
	return &PerturbMatrix{Cells: ids, Guides: header, Data: data}, nil
}

// LoadExpressionMatrix reads a genes x cells matrix: header "gene"
// followed by cell IDs, one row per gene.
func LoadExpressionMatrix(path string) (*ExpressionMatrix, error) {
	header, ids, data, err := loadMatrix(path)
	if err != nil {
		return nil, err
	}
	return &ExpressionMatrix{Genes: ids, Cells: header, Data: data}, nil
}

func loadMatrix(path string) (header []string, rowIDs []string, data []float64, err error) {
	in, err := openTable(path)
	if err != nil {
		return nil, nil, nil, err
	}
	defer in.Close()
	rdr := csv.NewReader(in)
	rec, err := rdr.Read()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read %s header: %w", path, err)
	}
	if len(rec) < 2 {
		return nil, nil, nil, fmt.Errorf("%s: matrix needs an ID column plus data columns", path)
	}
	header = append([]string(nil), rec[1:]...)
	for {
		rec, err := rdr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, nil, fmt.Errorf("read %s: %w", path, err)
		}
		if len(rec) != len(header)+1 {
			return nil, nil, nil, fmt.Errorf("%s: row %q has %d fields, want %d", path, rec[0], len(rec), len(header)+1)
		}
		rowIDs = append(rowIDs, rec[0])
		for _, field := range rec[1:] {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("%s: row %q: %w", path, rec[0], err)
			}
			data = append(data, v)
		}
	}
	if len(rowIDs) == 0 {
		return nil, nil, nil, fmt.Errorf("%s: no rows", path)
	}
	return header, rowIDs, data, nil
}

// SensitivityRecord is one condition's dose-response summary, the
// interchange row between the sensitivity and cost-reduction
// commands.
type SensitivityRecord struct {
	Assay       string
	NCells      int
	Reads       int
	Sensitivity float64
}

// LoadSensitivityTable reads a sensitivity summary CSV, mapping the
// literal NA back to NaN.
func LoadSensitivityTable(path string) ([]SensitivityRecord, error) {
	in, err := openTable(path)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	rdr := csv.NewReader(in)
	recs, err := rdr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(recs) < 2 {
		return nil, fmt.Errorf("%s: no rows", path)
	}
	var out []SensitivityRecord
	for _, rec := range recs[1:] {
		if len(rec) != 4 {
			return nil, fmt.Errorf("%s: row has %d fields, want 4", path, len(rec))
		}
		ncells, err := strconv.Atoi(rec[1])
		if err != nil {
			return nil, fmt.Errorf("%s: ncells %q: %w", path, rec[1], err)
		}
		reads, err := strconv.Atoi(rec[2])
		if err != nil {
			return nil, fmt.Errorf("%s: reads %q: %w", path, rec[2], err)
		}
		out = append(out, SensitivityRecord{
			Assay:       rec[0],
			NCells:      ncells,
			Reads:       reads,
			Sensitivity: parseNA(rec[3]),
		})
	}
	return out, nil
}

// formatNA writes NaN as the literal NA so undefined values stay
// visible downstream instead of collapsing to a number.
func formatNA(v float64) string {
	if math.IsNaN(v) {
		return "NA"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func parseNA(s string) float64 {
	if s == "NA" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// WriteGroupedCurves writes every group's precision-recall points.
func WriteGroupedCurves(w io.Writer, curves []GroupedCurve) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"assay", "ncells", "reads", "score", "precision", "recall"})
	for _, gc := range curves {
		for _, pt := range gc.Curve {
			cw.Write([]string{
				gc.Assay,
				strconv.Itoa(gc.NCells),
				strconv.Itoa(gc.Reads),
				formatNA(pt.Score),
				formatNA(pt.Precision),
				formatNA(pt.Recall),
			})
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteAUPRC writes one row per condition with its area under the
// precision-recall curve.
func WriteAUPRC(w io.Writer, curves []GroupedCurve) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"assay", "ncells", "reads", "auprc"})
	for _, gc := range curves {
		cw.Write([]string{gc.Assay, strconv.Itoa(gc.NCells), strconv.Itoa(gc.Reads), formatNA(gc.AUPRC)})
	}
	cw.Flush()
	return cw.Error()
}

// WriteSensitivityTable writes per-condition sensitivities in the
// format LoadSensitivityTable reads back.
func WriteSensitivityTable(w io.Writer, recs []SensitivityRecord) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"assay", "ncells", "reads", "sensitivity"})
	for _, r := range recs {
		cw.Write([]string{r.Assay, strconv.Itoa(r.NCells), strconv.Itoa(r.Reads), formatNA(r.Sensitivity)})
	}
	cw.Flush()
	return cw.Error()
}

// WriteCostRatios writes the cost-reduction comparison table.
func WriteCostRatios(w io.Writer, assayA, assayB string, ratios []CostRatio) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"sensitivity", "reads_" + assayA, "reads_" + assayB, "ratio"})
	for _, r := range ratios {
		cw.Write([]string{formatNA(r.Sensitivity), formatNA(r.ReadsA), formatNA(r.ReadsB), formatNA(r.Ratio)})
	}
	cw.Flush()
	return cw.Error()
}

// WriteGuideCounts writes a guides-per-cell histogram.
func WriteGuideCounts(w io.Writer, counts GuideCounts) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"guides", "cells"})
	for _, k := range counts.Bins() {
		cw.Write([]string{strconv.Itoa(k), strconv.Itoa(counts[k])})
	}
	cw.Flush()
	return cw.Error()
}

// WriteCaptureSummary writes the best-fit point of a capture model.
func WriteCaptureSummary(w io.Writer, fit *CaptureFit) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"alpha", "lambda", "loglik"})
	cw.Write([]string{formatNA(fit.Alpha), formatNA(fit.Lambda), formatNA(fit.LogLik)})
	cw.Flush()
	return cw.Error()
}
