// Copyright (C) The TAP-seq Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tapseq

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/james-bowman/nlp"
	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// RunPCA projects an expression matrix onto its leading principal
// components, one row of the result per cell. Each cell is treated
// as one observation over the genes.
func RunPCA(expr *ExpressionMatrix, components int) (*mat.Dense, error) {
	if components < 1 {
		return nil, fmt.Errorf("components must be >= 1, got %d", components)
	}
	if len(expr.Data) != len(expr.Genes)*len(expr.Cells) {
		return nil, fmt.Errorf("expression matrix has %d entries, want %d", len(expr.Data), len(expr.Genes)*len(expr.Cells))
	}
	if components > len(expr.Genes) || components > len(expr.Cells) {
		return nil, fmt.Errorf("cannot extract %d components from %d genes x %d cells", components, len(expr.Genes), len(expr.Cells))
	}
	// nlp expects observations in columns; genes x cells already is
	mtx := mat.NewDense(len(expr.Genes), len(expr.Cells), expr.Data)
	transformer := nlp.NewPCA(components)
	transformer.Fit(mtx)
	transformed, err := transformer.Transform(mtx)
	if err != nil {
		return nil, err
	}
	rows, cols := transformed.Dims()
	out := mat.NewDense(cols, rows, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Set(j, i, transformed.At(i, j))
		}
	}
	return out, nil
}

type pcaCmd struct{}

func (cmd *pcaCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	inputFilename := flags.String("i", "", "input expression matrix `file` (csv or csv.gz, genes x cells)")
	outputFilename := flags.String("o", "-", "output `file` (npy, cells x components)")
	components := flags.Int("components", 4, "number of components")
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
	expr, err := LoadExpressionMatrix(*inputFilename)
	if err != nil {
		return 1
	}
	log.Printf("fitting: %d genes x %d cells", len(expr.Genes), len(expr.Cells))
	pcs, err := RunPCA(expr, *components)
	if err != nil {
		return 1
	}

	rows, cols := pcs.Dims()
	out := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out[i*cols+j] = pcs.At(i, j)
		}
	}

	var output io.WriteCloser
	if *outputFilename == "-" {
		output = nopCloser{stdout}
	} else {
		output, err = os.OpenFile(*outputFilename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0777)
		if err != nil {
			return 1
		}
		defer output.Close()
	}
	bufw := bufio.NewWriter(output)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return 1
	}
	npw.Shape = []int{rows, cols}
	log.Printf("writing numpy: %d rows, %d cols", rows, cols)
	err = npw.WriteFloat64(out)
	if err != nil {
		return 1
	}
	err = bufw.Flush()
	if err != nil {
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}
	log.Print("done")
	return 0
}
