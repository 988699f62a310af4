package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/liftoff/internal/config"
	"github.com/kalambet/liftoff/internal/launch"
	"github.com/kalambet/liftoff/internal/storage"
)

// --- sync ---

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize launches with the provider",
	Long: `Synchronize launches with the provider.

By default the running server performs the sync. With --local the pipeline
runs in this process and waits for enrichment to finish.

Examples:
  liftoff sync
  liftoff sync --force
  liftoff sync --local`,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		local, _ := cmd.Flags().GetBool("local")
		if local {
			return syncLocal(cmd, force)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := "/sync"
		if force {
			path += "?force=true"
		}
		resp, err := client.post(cmd.Context(), path, nil)
		if err != nil {
			return err
		}

		var result struct {
			Count int        `json:"count"`
			Run   runSummary `json:"run"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Synchronized %d launches (%s)", result.Count, describeRun(result.Run))
		return nil
	},
}

func syncLocal(cmd *cobra.Command, force bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	svc, err := newService(cfg, newLogger(cfg.Log.Level))
	if err != nil {
		return err
	}
	defer svc.close()

	ctx := cmd.Context()
	if err := svc.coordinator.Load(ctx); err != nil {
		return err
	}
	printStep("Fetching launches...")
	if err := svc.coordinator.Sync(ctx, force); err != nil {
		return err
	}
	printStep("Enriching and preloading images...")
	svc.coordinator.Wait()

	records := svc.coordinator.Launches()
	enriched := 0
	for _, r := range records {
		if r.HasEnrichment() {
			enriched++
		}
	}
	printSuccess("Synchronized %d launches, %d enriched", len(records), enriched)
	if info, err := svc.store.SnapshotInfo(storage.SnapshotKey); err == nil {
		printStatus("Snapshot", "%d records saved %s", info.Records, info.SavedAt.Local().Format(time.DateTime))
	}
	return nil
}

func init() {
	syncCmd.Flags().Bool("force", false, "bypass the provider response cache")
	syncCmd.Flags().Bool("local", false, "run the pipeline in this process instead of the server")
}

// --- launches ---

var launchesCmd = &cobra.Command{
	Use:   "launches",
	Short: "Browse upcoming launches",
}

var launchesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List upcoming launches",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		favorites, _ := cmd.Flags().GetBool("favorites")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		q := url.Values{}
		q.Set("limit", fmt.Sprint(limit))
		if favorites {
			q.Set("favorites", "true")
		}
		resp, err := client.get(cmd.Context(), "/launches?"+q.Encode())
		if err != nil {
			return err
		}

		var list struct {
			Launches []launch.Record `json:"launches"`
		}
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}

		if len(list.Launches) == 0 {
			fmt.Fprintln(stdout, "No launches found.")
			return nil
		}
		for _, r := range list.Launches {
			fmt.Fprintln(stdout, formatLaunchLine(r))
		}
		return nil
	},
}

var launchesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single launch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/launches/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var r launch.Record
		if err := decodeJSON(resp, &r); err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(r)
		}
		printLaunch(r)
		return nil
	},
}

var launchesFavoriteCmd = &cobra.Command{
	Use:   "favorite <id>",
	Short: "Mark a launch as favorite",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		off, _ := cmd.Flags().GetBool("off")
		return updateFlags(cmd, args[0], func(f *flagsBody) { f.Favorite = !off })
	},
}

var launchesNotifyCmd = &cobra.Command{
	Use:   "notify <id>",
	Short: "Enable notifications for a launch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		off, _ := cmd.Flags().GetBool("off")
		return updateFlags(cmd, args[0], func(f *flagsBody) { f.NotificationsEnabled = !off })
	},
}

type flagsBody struct {
	Favorite             bool `json:"favorite"`
	NotificationsEnabled bool `json:"notifications_enabled"`
}

// updateFlags reads the current flags so toggling one leaves the other alone.
func updateFlags(cmd *cobra.Command, id string, change func(*flagsBody)) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	path := "/launches/" + url.PathEscape(id)

	resp, err := client.get(cmd.Context(), path)
	if err != nil {
		return err
	}
	var current launch.Record
	if err := decodeJSON(resp, &current); err != nil {
		return err
	}

	body := flagsBody{Favorite: current.Favorite, NotificationsEnabled: current.NotificationsEnabled}
	change(&body)

	resp, err = client.put(cmd.Context(), path+"/flags", body)
	if err != nil {
		return err
	}
	var updated launch.Record
	if err := decodeJSON(resp, &updated); err != nil {
		return err
	}
	printSuccess("%s: favorite=%t notifications=%t", updated.Name, updated.Favorite, updated.NotificationsEnabled)
	return nil
}

func init() {
	launchesListCmd.Flags().Int("limit", 20, "maximum number of launches to list")
	launchesListCmd.Flags().Bool("favorites", false, "only list favorites")
	launchesShowCmd.Flags().Bool("json", false, "print the raw record")
	launchesFavoriteCmd.Flags().Bool("off", false, "clear the flag instead")
	launchesNotifyCmd.Flags().Bool("off", false, "clear the flag instead")

	launchesCmd.AddCommand(launchesListCmd)
	launchesCmd.AddCommand(launchesShowCmd)
	launchesCmd.AddCommand(launchesFavoriteCmd)
	launchesCmd.AddCommand(launchesNotifyCmd)
}

// --- runs ---

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recent sync runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/sync-runs?limit=%d", limit))
		if err != nil {
			return err
		}

		var runs []runSummary
		if err := decodeJSON(resp, &runs); err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(stdout, "No sync runs recorded.")
			return nil
		}
		for _, r := range runs {
			fmt.Fprintln(stdout, formatRunLine(r))
		}
		return nil
	},
}

func init() {
	runsCmd.Flags().Int("limit", 10, "maximum number of runs to list")
}

type runSummary struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
	Forced     bool      `json:"forced"`
	Fetched    int       `json:"fetched"`
	Published  int       `json:"published"`
	Status     string    `json:"status"`
	Error      string    `json:"error"`
}

// --- cache ---

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or maintain the image cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show disk usage of the image cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		cache, err := openCache(cfg, newLogger("error"))
		if err != nil {
			return err
		}
		defer cache.Flush()

		files, size, err := cache.DiskUsage()
		if err != nil {
			return err
		}
		printStatus("Directory", "%s", assetsDir(cfg))
		printStatus("Files", "%d", files)
		printStatus("Disk", "%s of %d MB", formatBytes(size), cfg.Assets.DiskBudgetMB)
		return nil
	},
}

var cacheSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove expired images and enforce the disk budget",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		cache, err := openCache(cfg, newLogger(cfg.Log.Level))
		if err != nil {
			return err
		}
		cache.Flush()

		res, err := cache.Sweep()
		if err != nil {
			return err
		}
		printSuccess("Removed %d expired and %d evicted files; %d files (%s) remain",
			res.Expired, res.Evicted, res.Files, formatBytes(res.Bytes))
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cached image",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete ALL cached images. Use --confirm to proceed.")
			return nil
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		cache, err := openCache(cfg, newLogger(cfg.Log.Level))
		if err != nil {
			return err
		}
		if err := cache.Clear(); err != nil {
			return err
		}
		printSuccess("Image cache cleared")
		return nil
	},
}

func init() {
	cacheClearCmd.Flags().Bool("confirm", false, "confirm cache deletion")
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheSweepCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Fprintf(stdout, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		printStatus("Config file", "%s", config.ConfigFilePath())
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		for _, k := range config.ShowAll(config.Config{}) {
			if k.Key == key && k.Secret {
				printSuccess("Stored secret %s", key)
				return nil
			}
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
