package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rasterjit/engine/pkg/config"
	"github.com/rasterjit/engine/pkg/runtime"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the block cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Report the configured cache pool size (§4.E)",
	Long: `stats reports the Entry pool sizing a Runtime constructed from the
current config would use. It does not attach to another process's running
evaluation — the engine has no persistent daemon to query (§5 Cancellation/
timeouts: evaluation runs to completion or aborts within one process) — so
this is the pool geometry, not live occupancy from an in-flight run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		rt := runtime.New(runtime.Config{
			NumMachines:     cfg.Engine.NumMachines,
			NumDevices:      cfg.Engine.NumDevices,
			NumRanks:        cfg.Engine.NumRanks,
			MaxNumWorkers:   cfg.Engine.MaxNumWorkers,
			CacheEntryCount: cfg.Engine.CacheEntryCount,
		}, nil, nil, nil, GetLogger())

		stats := rt.Cache().Stats()
		fmt.Printf("pool size:     %d\n", stats.PoolSize)
		fmt.Printf("blocks alive:  %d\n", stats.BlocksAlive)
		fmt.Printf("files spilled: %d\n", stats.FilesSpilled)
		fmt.Printf("worker count:  %d\n", cfg.Engine.WorkerCount())
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	rootCmd.AddCommand(cacheCmd)
}
