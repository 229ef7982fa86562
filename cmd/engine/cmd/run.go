package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rasterjit/engine/internal/repository"
	"github.com/rasterjit/engine/internal/storage"
	"github.com/rasterjit/engine/pkg/codegen"
	"github.com/rasterjit/engine/pkg/compression"
	"github.com/rasterjit/engine/pkg/config"
	"github.com/rasterjit/engine/pkg/filestore"
	"github.com/rasterjit/engine/pkg/program"
	"github.com/rasterjit/engine/pkg/runtime"
	"github.com/rasterjit/engine/pkg/telemetry"
)

var (
	runDAGFile      string
	runDBDriver     string
	runDBDSN        string
	runDisablePersist bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Load a DAG description and evaluate it to completion",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runDAGFile, "dag", "d", "", "path to a JSON DAG description (required)")
	runCmd.Flags().StringVar(&runDBDriver, "version-db-driver", "", "compiled-version store driver (default sqlite3)")
	runCmd.Flags().StringVar(&runDBDSN, "version-db-dsn", "", "compiled-version store DSN (default local sqlite file)")
	runCmd.Flags().BoolVar(&runDisablePersist, "no-version-cache", false, "disable the persistent compiled-version cache")
	runCmd.MarkFlagRequired("dag")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	log := GetLogger()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx := context.Background()
	shutdown, err := telemetry.Init(ctx)
	if err != nil {
		log.Warn("telemetry init failed, continuing without tracing: %v", err)
	} else {
		defer shutdown(ctx)
	}

	f, err := os.Open(runDAGFile)
	if err != nil {
		return fmt.Errorf("failed to open DAG description: %w", err)
	}
	defer f.Close()

	desc, err := program.Load(f)
	if err != nil {
		return err
	}
	nodes, err := program.Build(desc)
	if err != nil {
		return fmt.Errorf("failed to build DAG: %w", err)
	}
	log.Info("loaded %d nodes from %s", len(nodes), runDAGFile)

	backend, err := storage.NewStorage(&cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to construct storage backend: %w", err)
	}
	codec, err := spillCodec(cfg.Storage.SpillCompression)
	if err != nil {
		return fmt.Errorf("failed to construct spill codec: %w", err)
	}
	store := filestore.New(backend, ctx, codec)

	var repo *repository.CompiledVersionRepository
	if !runDisablePersist {
		db, err := repository.NewCompiledVersionDB(runDBDriver, runDBDSN)
		if err != nil {
			return fmt.Errorf("failed to open compiled-version store: %w", err)
		}
		defer db.Close()
		repo = repository.NewCompiledVersionRepository(db)
	}

	rt := runtime.New(runtime.Config{
		NumMachines:     cfg.Engine.NumMachines,
		NumDevices:      cfg.Engine.NumDevices,
		NumRanks:        cfg.Engine.NumRanks,
		MaxNumWorkers:   cfg.Engine.MaxNumWorkers,
		CacheEntryCount: cfg.Engine.CacheEntryCount,
	}, codegen.NewTemplateGen(), repo, store, log)

	for _, n := range nodes {
		rt.AddNode(n, nil)
	}

	start := time.Now()
	if err := rt.Compile(ctx, nodes); err != nil {
		return fmt.Errorf("compile failed: %w", err)
	}
	compiled := time.Since(start)

	start = time.Now()
	if err := rt.Evaluate(ctx); err != nil {
		return fmt.Errorf("evaluate failed: %w", err)
	}
	evaluated := time.Since(start)

	printSummary(os.Stdout, rt, compiled, evaluated)
	return nil
}

// spillCodec maps the storage.spill_compression config value to a
// compression.Compressor. An empty or "none" value disables compression.
func spillCodec(name string) (compression.Compressor, error) {
	switch name {
	case "", "none":
		return compression.NewNoOpCompressor(), nil
	case "gzip":
		return compression.New(compression.TypeGzip, compression.LevelDefault)
	case "zstd":
		return compression.New(compression.TypeZstd, compression.LevelDefault)
	default:
		return nil, fmt.Errorf("unknown spill compression %q", name)
	}
}

func printSummary(w *os.File, rt *runtime.Runtime, compiled, evaluated time.Duration) {
	metrics := rt.Metrics()
	stats := rt.Cache().Stats()

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PHASE\tDURATION")
	fmt.Fprintf(tw, "COMPIL\t%s\n", compiled)
	fmt.Fprintf(tw, "EVAL\t%s\n", evaluated)
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "METRIC\tVALUE")
	fmt.Fprintf(tw, "completed jobs\t%d\n", metrics.CompletedTasks)
	fmt.Fprintf(tw, "failed jobs\t%d\n", metrics.FailedTasks)
	fmt.Fprintf(tw, "avg job time\t%s\n", metrics.AvgTaskTime)
	fmt.Fprintf(tw, "max job time\t%s\n", metrics.MaxTaskTime)
	fmt.Fprintf(tw, "pool size\t%d\n", stats.PoolSize)
	fmt.Fprintf(tw, "blocks alive\t%d\n", stats.BlocksAlive)
	fmt.Fprintf(tw, "files spilled\t%d\n", stats.FilesSpilled)
	tw.Flush()
}
