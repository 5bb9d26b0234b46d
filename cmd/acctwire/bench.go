// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/acctwire/acctwire-go/pkg/account"
	"github.com/acctwire/acctwire-go/pkg/client"
	"github.com/acctwire/acctwire-go/pkg/server"
)

var (
	benchAddress    string
	benchSize       int
	benchIterations int
	benchThreads    int
	benchSaveDir    string
)

// benchInputs of a benchmark run.
type benchInputs struct {
	Protocol   string `json:"protocol"`
	Size       int    `json:"size"`
	Iterations int    `json:"iterations"`
	Threads    int    `json:"threads"`
}

// benchOutputs of a benchmark run.
type benchOutputs struct {
	ElapsedTimeS float64 `json:"elapsed_time_s"`
	IOPS         float64 `json:"iops"`
	SpeedBps     float64 `json:"speed_bps"`
}

// benchResults are written to the --save-dir.
type benchResults struct {
	Account string       `json:"account"`
	Address string       `json:"address"`
	Inputs  benchInputs  `json:"inputs"`
	Outputs benchOutputs `json:"outputs"`
}

func newBenchOutputs(in benchInputs, elapsed time.Duration) benchOutputs {
	secs := elapsed.Seconds()
	return benchOutputs{
		ElapsedTimeS: secs,
		IOPS:         float64(in.Iterations) / secs,
		SpeedBps:     float64(8*in.Size*in.Iterations) / secs,
	}
}

// runBench sends the iterations through the threads, each iteration's payload
// being a window of data shifted by the iteration's index.
func runBench(ctx context.Context, c *client.Client, acc account.Account, addr account.Address, in benchInputs, data []byte) (time.Duration, error) {
	start := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	for offset := 0; offset < in.Threads; offset++ {
		offset := offset
		g.Go(func() error {
			for iter := offset; iter < in.Iterations; iter += in.Threads {
				if _, err := c.CallAt(ctx, acc, addr, server.OpSink, data[iter:iter+in.Size]); err != nil {
					return fmt.Errorf("iteration %d: %w", iter, err)
				}
			}
			return nil
		})
	}

	err := g.Wait()
	return time.Since(start), err
}

// benchTimeLayout names result files without characters some filesystems
// reject, e.g., colons.
const benchTimeLayout = "20060102T150405Z"

func saveBenchResults(dir string, started time.Time, results benchResults) (string, error) {
	filename := filepath.Join(dir, fmt.Sprintf("benchmark-acctwire-%s-%s.json",
		results.Inputs.Protocol, started.UTC().Format(benchTimeLayout)))

	f, err := os.Create(filename)
	if err != nil {
		return "", err
	}
	defer f.Close()

	return filename, json.NewEncoder(f).Encode(results)
}

var benchCmd = &cobra.Command{
	Use:   "bench ACCOUNT",
	Short: "Benchmark a remote Account by sending payloads to its sink",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		acc, addr, err := parseTarget(args[0], benchAddress)
		if err != nil {
			return err
		}
		if benchSize < 0 || benchIterations <= 0 || benchThreads <= 0 {
			return fmt.Errorf("size, iterations and threads must be positive")
		}

		c, closer, err := newClient()
		if err != nil {
			return err
		}
		defer closer()

		if addr.IsZero() {
			if addr, err = c.ResolveAddress(context.Background(), acc); err != nil {
				return err
			}
		}

		in := benchInputs{
			Protocol:   string(addr.Kind),
			Size:       benchSize,
			Iterations: benchIterations,
			Threads:    benchThreads,
		}
		started := time.Now()

		log.WithFields(log.Fields{
			"account":    acc,
			"address":    addr,
			"size":       in.Size,
			"iterations": in.Iterations,
			"threads":    in.Threads,
		}).Info("Initializing benchmark")

		data := make([]byte, in.Size+in.Iterations)
		if _, err := rand.Read(data); err != nil {
			return err
		}

		log.Info("Benchmarking")
		elapsed, err := runBench(context.Background(), c, acc, addr, in, data)
		if err != nil {
			return err
		}

		results := benchResults{
			Account: acc.String(),
			Address: addr.String(),
			Inputs:  in,
			Outputs: newBenchOutputs(in, elapsed),
		}

		if benchSaveDir != "" {
			filename, err := saveBenchResults(benchSaveDir, started, results)
			if err != nil {
				return err
			}
			log.WithField("file", filename).Info("Saved benchmark results")
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Elapsed Time: %.3fs\nIOPS: %.1f\nSpeed: %.0fbps\n",
			results.Outputs.ElapsedTimeS, results.Outputs.IOPS, results.Outputs.SpeedBps)
		return nil
	},
}

func init() {
	benchCmd.Flags().StringVarP(&benchAddress, "address", "a", "", "explicit address, skipping the book")
	benchCmd.Flags().IntVarP(&benchSize, "size", "s", 64_000_000, "payload size in bytes")
	benchCmd.Flags().IntVarP(&benchIterations, "iterations", "i", 30, "number of calls")
	benchCmd.Flags().IntVar(&benchThreads, "threads", 1, "number of concurrent callers")
	benchCmd.Flags().StringVar(&benchSaveDir, "save-dir", "", "directory to save the JSON results in")
}
