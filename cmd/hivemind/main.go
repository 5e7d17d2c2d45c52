package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hivemesh/hivemind/pkg/api"
	"github.com/hivemesh/hivemind/pkg/config"
	"github.com/hivemesh/hivemind/pkg/coordinator"
	"github.com/hivemesh/hivemind/pkg/log"
	"github.com/hivemesh/hivemind/pkg/storage"
	"github.com/hivemesh/hivemind/pkg/types"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, types.ErrInvalidRequest) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hivemind",
	Short: "Hivemind - hive-mind task coordinator",
	Long: `Hivemind coordinates a swarm of capability-typed agents working
toward a shared objective: a queen directs topology and scaling, a
scheduler matches tasks to agents, consensus settles decisions, and a
durable collective memory outlives individual agents.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Hivemind version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("data-dir", ".", "Data directory for hive state")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(spawnCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(consensusCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(shutdownCmd)
}

// loadConfig reads configuration honoring the data-dir flag and verbose
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	cfg, err := config.Load(dataDir)
	if err != nil {
		return nil, err
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.LogLevel = "debug"
		cfg.Features.Verbose = true
	}
	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	return cfg, nil
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize hive configuration in the data directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		applySwarmFlags(cmd, cfg)
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
		fmt.Printf("✓ Configuration written to %s\n", config.Path(cfg.DataDir))
		return nil
	},
}

var spawnCmd = &cobra.Command{
	Use:   "spawn OBJECTIVE",
	Short: "Spawn a swarm for an objective and run until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		objective := args[0]
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		applySwarmFlags(cmd, cfg)

		coord, err := coordinator.New(cfg)
		if err != nil {
			return err
		}

		queenMode, _ := cmd.Flags().GetString("queen-type")
		swarmID, err := coord.SubmitObjective(objective, coordinator.Options{
			QueenMode:  types.QueenMode(queenMode),
			MaxWorkers: cfg.Defaults.MaxWorkers,
			AutoScale:  cfg.Features.AutoScale,
		})
		if err != nil {
			return err
		}
		fmt.Printf("✓ Swarm %s spawned for objective: %s\n", swarmID, objective)

		var monitor *api.MonitorServer
		if cfg.Features.Monitor {
			addr, _ := cmd.Flags().GetString("monitor-addr")
			monitor = api.NewMonitorServer(coord, addr)
			go func() {
				if err := monitor.Start(); err != nil {
					fmt.Fprintf(os.Stderr, "monitor endpoint error: %v\n", err)
				}
			}()
			fmt.Printf("✓ Monitor on http://%s (health, ready, status, metrics)\n", addr)
		}

		sub := coord.Subscribe()
		defer sub.Cancel()
		go func() {
			for ev := range sub.C {
				if cfg.Features.Verbose {
					fmt.Println(string(ev.JSON()))
				}
			}
		}()

		fmt.Println("Hive is running. Press Ctrl+C to stop.")
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		fmt.Println("\nShutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Defaults.DrainWindow+10*time.Second)
		defer cancel()
		if monitor != nil {
			if err := monitor.Stop(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "monitor stop error: %v\n", err)
			}
		}
		if err := coord.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show persisted hive state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer store.Close()

		swarms, err := store.ListSwarms()
		if err != nil {
			return err
		}
		if len(swarms) == 0 {
			fmt.Println("No swarms found.")
			return nil
		}
		for _, s := range swarms {
			fmt.Printf("Swarm %s (%s)\n", s.Name, s.ID)
			fmt.Printf("  Objective: %s\n", s.Objective)
			fmt.Printf("  Topology:  %s  Queen mode: %s  Status: %s\n", s.Topology, s.QueenMode, s.Status)

			agents, err := store.ListAgents(s.ID)
			if err != nil {
				return err
			}
			byType := make(map[string]int)
			for _, a := range agents {
				if a.Status != types.AgentStatusOffline {
					byType[string(a.Type)]++
				}
			}
			fmt.Printf("  Agents:    %d live %v\n", len(agents), byType)

			tasks, err := store.ListTasks(s.ID)
			if err != nil {
				return err
			}
			byStatus := make(map[string]int)
			for _, t := range tasks {
				byStatus[string(t.Status)]++
			}
			fmt.Printf("  Tasks:     %d %v\n", len(tasks), byStatus)
		}

		stats, err := store.Stats()
		if err != nil {
			return err
		}
		fmt.Printf("Store: %d entries in %d namespaces, %d decisions, %d bytes, durable=%v\n",
			stats.Entries, len(stats.Namespaces), stats.Decisions, stats.SizeBytes, stats.Durable)
		return nil
	},
}

var consensusCmd = &cobra.Command{
	Use:   "consensus",
	Short: "Show persisted consensus decisions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer store.Close()

		swarms, err := store.ListSwarms()
		if err != nil {
			return err
		}
		total := 0
		for _, s := range swarms {
			decisions, err := store.ListDecisions(s.ID)
			if err != nil {
				return err
			}
			for _, d := range decisions {
				fmt.Printf("%s  %-10s  %-24s -> %s (confidence %.2f, %d votes)\n",
					d.CreatedAt.Format(time.RFC3339), d.Algorithm, d.Topic, d.Decision,
					d.Confidence, len(d.Votes))
				total++
			}
		}
		if total == 0 {
			fmt.Println("No decisions recorded.")
		}
		return nil
	},
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Print a one-shot snapshot of store counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer store.Close()

		stats, err := store.Stats()
		if err != nil {
			return err
		}
		fmt.Printf("swarms      %d\n", stats.Swarms)
		fmt.Printf("agents      %d\n", stats.Agents)
		fmt.Printf("tasks       %d\n", stats.Tasks)
		fmt.Printf("entries     %d\n", stats.Entries)
		fmt.Printf("decisions   %d\n", stats.Decisions)
		fmt.Printf("size_bytes  %d\n", stats.SizeBytes)
		for ns, n := range stats.Namespaces {
			fmt.Printf("namespace   %-24s %d\n", ns, n)
		}
		return nil
	},
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Mark interrupted swarms terminated in the store",
	Long: `Marks swarms left active or shutting_down by an interrupted process
as terminated. A running hive shuts down with Ctrl+C on its spawn
command; this verb only repairs persisted state.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer store.Close()

		swarms, err := store.ListSwarms()
		if err != nil {
			return err
		}
		repaired := 0
		for _, s := range swarms {
			if s.Status == types.SwarmStatusTerminated {
				continue
			}
			s.Status = types.SwarmStatusTerminated
			s.UpdatedAt = time.Now()
			if err := store.UpdateSwarm(s); err != nil {
				return err
			}
			repaired++
		}
		fmt.Printf("✓ %d swarm(s) marked terminated\n", repaired)
		return nil
	},
}

// applySwarmFlags overlays command flags on the loaded configuration
func applySwarmFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("queen-type") {
		v, _ := cmd.Flags().GetString("queen-type")
		cfg.Defaults.QueenMode = v
	}
	if cmd.Flags().Changed("max-workers") {
		v, _ := cmd.Flags().GetInt("max-workers")
		cfg.Defaults.MaxWorkers = v
	}
	if cmd.Flags().Changed("consensus") {
		v, _ := cmd.Flags().GetString("consensus")
		cfg.Defaults.ConsensusAlgorithm = v
	}
	if cmd.Flags().Changed("memory-size") {
		v, _ := cmd.Flags().GetInt("memory-size")
		cfg.Defaults.MemoryCacheSize = v
	}
	if cmd.Flags().Changed("auto-scale") {
		v, _ := cmd.Flags().GetBool("auto-scale")
		cfg.Features.AutoScale = v
	}
	if cmd.Flags().Changed("encryption") {
		v, _ := cmd.Flags().GetBool("encryption")
		cfg.Features.Encryption = v
	}
	if cmd.Flags().Changed("monitor") {
		v, _ := cmd.Flags().GetBool("monitor")
		cfg.Features.Monitor = v
	}
}

func init() {
	for _, c := range []*cobra.Command{initCmd, spawnCmd} {
		c.Flags().String("queen-type", "centralized", "Queen mode: centralized, distributed or strategic")
		c.Flags().Int("max-workers", 8, "Maximum worker pool size")
		c.Flags().String("consensus", "majority", "Default consensus algorithm: majority, weighted or byzantine")
		c.Flags().Int("memory-size", 1000, "Memory LRU cache size")
		c.Flags().Bool("auto-scale", true, "Enable queue-pressure auto-scaling")
		c.Flags().Bool("encryption", false, "Encrypt memory values at rest")
		c.Flags().Bool("monitor", false, "Serve health, status and metrics endpoints")
	}
	spawnCmd.Flags().String("monitor-addr", "127.0.0.1:9600", "Address for the /metrics endpoint")
}
