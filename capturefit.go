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

	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
)

type captureFitCmd struct {
	threshold  float64
	dropZero   bool
	alphaStep  float64
	lambdaStep float64
	lambdaMax  float64
}

func (cmd *captureFitCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	inputFilename := flags.String("i", "", "input perturbation matrix `file` (csv or csv.gz, cells x guides)")
	outputFilename := flags.String("o", "-", "output best-fit summary `file` (csv)")
	surfaceFilename := flags.String("surface", "", "also write full log-likelihood surface to `file` (npy, alpha x lambda)")
	flags.Float64Var(&cmd.threshold, "threshold", 1, "matrix entry threshold for calling a guide present")
	flags.BoolVar(&cmd.dropZero, "drop-zero", false, "exclude cells with no detected guide from the fit")
	flags.Float64Var(&cmd.alphaStep, "alpha-step", 0.001, "capture probability grid step")
	flags.Float64Var(&cmd.lambdaStep, "lambda-step", 0.04, "multiplicity-of-infection grid step")
	flags.Float64Var(&cmd.lambdaMax, "lambda-max", 3, "multiplicity-of-infection grid upper bound")
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
	perturb, err := LoadPerturbMatrix(*inputFilename)
	if err != nil {
		return 1
	}
	counts, err := CountGuidesPerCell(perturb, cmd.threshold)
	if err != nil {
		return 1
	}
	if cmd.dropZero {
		counts = counts.DropZeroBin()
	}
	log.Printf("fitting: %d cells, max %d guides per cell", counts.Total(), counts.MaxBin())
	alphaGrid, err := MakeGrid(0, 1, cmd.alphaStep)
	if err != nil {
		return 2
	}
	lambdaGrid, err := MakeGrid(cmd.lambdaStep, cmd.lambdaMax, cmd.lambdaStep)
	if err != nil {
		return 2
	}
	fit, err := FitCaptureModel(counts, alphaGrid, lambdaGrid)
	if err != nil {
		return 1
	}
	log.Printf("best fit: alpha %v, lambda %v, loglik %v", fit.Alpha, fit.Lambda, fit.LogLik)

	var output io.WriteCloser
	if *outputFilename == "-" {
		output = nopCloser{stdout}
	} else {
		output, err = os.OpenFile(*outputFilename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
		if err != nil {
			return 1
		}
		defer output.Close()
	}
	err = WriteCaptureSummary(output, fit)
	if err != nil {
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}

	if *surfaceFilename != "" {
		err = writeSurface(*surfaceFilename, fit)
		if err != nil {
			return 1
		}
	}
	return 0
}

func writeSurface(filename string, fit *CaptureFit) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	defer f.Close()
	bufw := bufio.NewWriter(f)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return err
	}
	rows, cols := fit.Surface.Dims()
	out := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out[i*cols+j] = fit.Surface.At(i, j)
		}
	}
	npw.Shape = []int{rows, cols}
	err = npw.WriteFloat64(out)
	if err != nil {
		return err
	}
	err = bufw.Flush()
	if err != nil {
		return err
	}
	return f.Close()
}

type simulateCmd struct {
	ncells int
	alpha  float64
	lambda float64
	seed   uint64
}

func (cmd *simulateCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	outputFilename := flags.String("o", "-", "output histogram `file` (csv)")
	flags.IntVar(&cmd.ncells, "n", 10000, "number of cells to simulate")
	flags.Float64Var(&cmd.alpha, "alpha", 0.5, "per-guide capture probability")
	flags.Float64Var(&cmd.lambda, "lambda", 1, "multiplicity-of-infection rate")
	flags.Uint64Var(&cmd.seed, "seed", 1, "random seed")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}

	counts, err := SimulateGuideCounts(cmd.ncells, cmd.alpha, cmd.lambda, rand.NewSource(cmd.seed))
	if err != nil {
		return 1
	}
	var output io.WriteCloser
	if *outputFilename == "-" {
		output = nopCloser{stdout}
	} else {
		output, err = os.OpenFile(*outputFilename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
		if err != nil {
			return 1
		}
		defer output.Close()
	}
	err = WriteGuideCounts(output, counts)
	if err != nil {
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}
	return 0
}
