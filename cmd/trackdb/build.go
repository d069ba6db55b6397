package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/seqindex/trackdb/internal/config"
	"github.com/seqindex/trackdb/internal/track"
)

func newBuildCmd() *cobra.Command {
	var (
		configPath string
		outDir     string
		only       []string
		workers    int
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build annotation track partitions from a manifest",
		Example: `  trackdb build --config hg19.yaml --out ./db
  trackdb build --config hg19.yaml --out ./db --track refSeq --track phyloP`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(configPath, outDir, only, workers)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Track manifest YAML (required)")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Output store directory (default: 'out' config key)")
	cmd.Flags().StringArrayVarP(&only, "track", "t", nil, "Build only the named track (repeatable; default: all)")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Partition staging parallelism per track (default: 'workers' config key, else all CPUs)")
	cmd.MarkFlagRequired("config")

	return cmd
}

func runBuild(configPath, outDir string, only []string, workers int) error {
	if outDir == "" {
		outDir = viper.GetString("out")
	}
	if outDir == "" {
		return fmt.Errorf("--out is required (or set 'out' in ~/.trackdb.yaml)")
	}
	if workers <= 0 {
		workers = viper.GetInt("workers")
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	m, err := config.Load(configPath)
	if err != nil {
		return err
	}

	names := only
	if len(names) == 0 {
		for _, t := range m.Tracks {
			names = append(names, t.Name)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Tracks share no mutable state but builds are memory-hungry, so
	// they run sequentially; partitions within a track parallelize.
	var failed []string
	for _, name := range names {
		b, err := track.NewBuilder(outDir, m, name)
		if err != nil {
			return err
		}
		b.SetLogger(logger)
		b.SetWorkers(workers)

		res, err := b.Build(ctx)
		if err != nil {
			if errors.Is(err, track.ErrBuildAborted) {
				logger.Error("track build aborted", zap.String("track", name), zap.Error(err))
				failed = append(failed, name)
				if ctx.Err() != nil {
					break
				}
				continue
			}
			return err
		}

		fmt.Printf("%s: %d rows, %d skipped, %d field errors, %d chromosome(s)\n",
			res.Track, res.Rows, res.Skipped, res.FieldErrors, len(res.Chromosomes))
	}

	if len(failed) > 0 {
		return fmt.Errorf("build failed for %d track(s): %v", len(failed), failed)
	}
	return nil
}
