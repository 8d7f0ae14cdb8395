package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/tenet/internal/cache"
	"github.com/dshills/tenet/internal/config"
)

var (
	flagCacheStale bool
	flagCacheJSON  bool
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or empty the per-unit result cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove cached matching results",
	Long: "Remove every cached result. With --stale, remove only entries a check would never reuse: " +
		"expired ones and ones written by another tenet version.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCache(true)
		if err != nil {
			return err
		}
		remove, what := c.Clear, "entries"
		if flagCacheStale {
			remove, what = c.Prune, "stale entries"
		}
		n, err := remove()
		if err != nil {
			return fmt.Errorf("clearing cache: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d %s from %s\n", n, what, c.Dir())
		return nil
	},
}

var cacheShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show where the cache lives and what it holds",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCache(false)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if !c.Enabled() {
			fmt.Fprintln(out, "Cache is disabled (cache.enabled: false).")
			return nil
		}
		stats, err := c.GetStats()
		if err != nil {
			return fmt.Errorf("reading cache stats: %w", err)
		}
		if flagCacheJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		}
		fmt.Fprintf(out, "dir      %s\n", stats.Dir)
		fmt.Fprintf(out, "entries  %d (%s)\n", stats.Entries, humanBytes(stats.TotalBytes))
		fmt.Fprintf(out, "expired  %d\n", stats.Expired)
		fmt.Fprintf(out, "stale    %d\n", stats.Stale)
		return nil
	},
}

// openCache opens the configured cache. force opens it even when caching is
// turned off, so clear still works.
func openCache(force bool) (*cache.Cache, error) {
	cfg, err := config.Load(nil)
	if err != nil {
		return nil, err
	}
	return newCache(cfg, force)
}

func newCache(cfg config.Config, force bool) (*cache.Cache, error) {
	c, err := cache.New(force || cfg.Cache.Enabled, cfg.Cache.Dir, cfg.Cache.TTLSeconds)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	return c, nil
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd, cacheShowCmd)
	cacheClearCmd.Flags().BoolVar(&flagCacheStale, "stale", false, "Only remove expired entries and entries from other versions")
	cacheShowCmd.Flags().BoolVar(&flagCacheJSON, "json", false, "Print statistics as JSON")
}
