package main

import (
	"fmt"
	"os"
	"time"

	"github.com/hivemesh/hivemind/pkg/config"
	"github.com/hivemesh/hivemind/pkg/memory"
	"github.com/hivemesh/hivemind/pkg/security"
	"github.com/hivemesh/hivemind/pkg/storage"
	"github.com/spf13/cobra"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and manage collective memory",
}

// openMemory opens the durable store and the memory layer over it
func openMemory(cmd *cobra.Command) (*memory.Memory, *storage.BoltStore, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	mem, err := memory.New(store, cfg.Defaults.MemoryCacheSize)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	if cfg.Features.Encryption {
		key, err := security.LoadOrCreateKey(config.Dir(cfg.DataDir))
		if err != nil {
			store.Close()
			return nil, nil, err
		}
		cipher, err := security.NewCipher(key)
		if err != nil {
			store.Close()
			return nil, nil, err
		}
		mem.EnableEncryption(cipher)
	}
	return mem, store, nil
}

var memoryStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show memory statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		mem, store, err := openMemory(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := mem.Stats()
		if err != nil {
			return err
		}
		fmt.Printf("Entries: %d\n", stats.TotalEntries)
		for ns, n := range stats.Namespaces {
			fmt.Printf("  %-24s %d\n", ns, n)
		}
		return nil
	},
}

var memoryListCmd = &cobra.Command{
	Use:   "list NAMESPACE",
	Short: "List entries in a namespace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mem, store, err := openMemory(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		entries, err := mem.List(args[0], limit)
		if err != nil {
			return err
		}
		for _, e := range entries {
			ttl := "persistent"
			if e.TTL > 0 {
				ttl = fmt.Sprintf("expires %s", e.ExpiresAt.Format(time.RFC3339))
			}
			fmt.Printf("%-32s %6d bytes  accessed %d  %s\n", e.Key, len(e.Value), e.AccessCount, ttl)
		}
		return nil
	},
}

var memoryGetCmd = &cobra.Command{
	Use:   "get NAMESPACE KEY",
	Short: "Print an entry's value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mem, store, err := openMemory(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		value, err := mem.Retrieve(args[0], args[1])
		if err != nil {
			return err
		}
		if value == nil {
			fmt.Println("(not found)")
			return nil
		}
		os.Stdout.Write(value)
		fmt.Println()
		return nil
	},
}

var memoryStoreCmd = &cobra.Command{
	Use:   "store NAMESPACE KEY VALUE",
	Short: "Store an entry",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		mem, store, err := openMemory(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		ttl, _ := cmd.Flags().GetDuration("ttl")
		if err := mem.Store(args[0], args[1], []byte(args[2]), ttl); err != nil {
			return err
		}
		fmt.Println("✓ Stored")
		return nil
	},
}

var memorySearchCmd = &cobra.Command{
	Use:   "search PATTERN",
	Short: "Search entries by substring",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mem, store, err := openMemory(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		namespace, _ := cmd.Flags().GetString("namespace")
		limit, _ := cmd.Flags().GetInt("limit")
		entries, err := mem.Search(memory.SearchOptions{
			Namespace: namespace,
			Pattern:   args[0],
			Limit:     limit,
		})
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%s/%s  %d bytes\n", e.Namespace, e.Key, len(e.Value))
		}
		if len(entries) == 0 {
			fmt.Println("(no matches)")
		}
		return nil
	},
}

var memoryBackupCmd = &cobra.Command{
	Use:   "backup FILE",
	Short: "Write a JSON backup of all namespaces and entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mem, store, err := openMemory(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		f, err := os.Create(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		if err := mem.Backup(f); err != nil {
			return err
		}
		fmt.Printf("✓ Backup written to %s\n", args[0])
		return nil
	},
}

var memoryRestoreCmd = &cobra.Command{
	Use:   "restore FILE",
	Short: "Restore namespaces and entries from a JSON backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mem, store, err := openMemory(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		if err := mem.Restore(f); err != nil {
			return err
		}
		fmt.Println("✓ Restore complete")
		return nil
	},
}

func init() {
	memoryCmd.AddCommand(memoryStatsCmd)
	memoryCmd.AddCommand(memoryListCmd)
	memoryCmd.AddCommand(memoryGetCmd)
	memoryCmd.AddCommand(memoryStoreCmd)
	memoryCmd.AddCommand(memorySearchCmd)
	memoryCmd.AddCommand(memoryBackupCmd)
	memoryCmd.AddCommand(memoryRestoreCmd)

	memoryListCmd.Flags().Int("limit", 50, "Maximum entries to list")
	memoryStoreCmd.Flags().Duration("ttl", 0, "Time to live (0 = persistent)")
	memorySearchCmd.Flags().String("namespace", "", "Restrict search to one namespace")
	memorySearchCmd.Flags().Int("limit", 50, "Maximum matches")
}
