// ABOUTME: Entry point for covenstore, the operator CLI for tiered coven storage
// ABOUTME: Inspects and edits keys, registries and overflow state; watches tier databases for changes

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/2389/coven-storage/internal/app"
	"github.com/2389/coven-storage/internal/cell"
	"github.com/2389/coven-storage/internal/config"
	"github.com/2389/coven-storage/internal/storage"
	"github.com/2389/coven-storage/internal/tier"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                      _
  ___ _____   _____ _ __    ___| |_ ___  _ __ ___
 / __/ _ \ \ / / _ \ '_ \  / __| __/ _ \| '__/ _ \
| (_| (_) \ V /  __/ | | | \__ \ || (_) | | |  __/
 \___\___/ \_/ \___|_| |_| |___/\__\___/|_|  \___|
`

// getConfigPath returns the path to the storage config file.
// Priority: COVEN_STORAGE_CONFIG env var > XDG_CONFIG_HOME/coven/storage.yaml > ~/.config/coven/storage.yaml
func getConfigPath() string {
	if envPath := os.Getenv("COVEN_STORAGE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "storage.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "storage.yaml")
}

// getDataPath returns the path to the coven data directory.
// Priority: XDG_DATA_HOME/coven > ~/.local/share/coven
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "coven")
}

func usage() {
	fmt.Println("Usage: covenstore <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  init                          Create a new config file")
	fmt.Println("  keys                          List configured keys with tier and version state")
	fmt.Println("  get <key>                     Print the value of a key")
	fmt.Println("  set <key> <json> [tier]       Store a value (tier overrides the policy)")
	fmt.Println("  clear <key>                   Remove a stored value from both tiers")
	fmt.Println("  overflow                      List keys moved to the local tier")
	fmt.Println("  versions                      Show the recorded key versions")
	fmt.Println("  watch                         Reload registries on change and serve metrics")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "init":
		err = runInit()
	case "keys":
		err = withApp(ctx, runKeys)
	case "get":
		err = withApp(ctx, func(ctx context.Context, a *app.App) error { return runGet(ctx, a, args) })
	case "set":
		err = withApp(ctx, func(ctx context.Context, a *app.App) error { return runSet(ctx, a, args) })
	case "clear":
		err = withApp(ctx, func(ctx context.Context, a *app.App) error { return runClear(ctx, a, args) })
	case "overflow":
		err = withApp(ctx, runOverflow)
	case "versions":
		err = withApp(ctx, runVersions)
	case "watch":
		err = runWatch(ctx)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// withApp loads config, builds the app, runs fn and closes the app.
func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	a, err := app.New(ctx, cfg, setupLogger(cfg.Logging, os.Stderr))
	if err != nil {
		return err
	}

	return errors.Join(fn(ctx, a), a.Close())
}

func runKeys(ctx context.Context, a *app.App) error {
	overflow := a.Manager().Overflow()
	versions := a.Manager().Versions()

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tPOLICY\tACTIVE\tVERSION\tRECORDED")
	for _, k := range a.Config().Keys {
		active := k.ParsedTier()
		if overflow.IsOverflowing(k.Name) {
			active = tier.Local
		}
		recorded, _ := versions.Get(k.Name)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			k.Name, k.ParsedTier(), active, dash(k.Version), dash(recorded))
	}
	return tw.Flush()
}

func runGet(ctx context.Context, a *app.App, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: covenstore get <key>")
	}
	slot, err := a.Slot(args[0])
	if err != nil {
		return err
	}

	v, err := slot.Await(ctx)
	if err != nil {
		return err
	}

	// Let a version reset reach disk before the app closes
	if err := awaitReady(ctx, slot); err != nil {
		return err
	}

	color.New(color.FgHiBlack).Fprintf(os.Stderr, "tier: %s\n", slot.Tier())
	fmt.Println(string(v))
	return nil
}

func runSet(ctx context.Context, a *app.App, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return fmt.Errorf("usage: covenstore set <key> <json> [shared|local]")
	}
	slot, err := a.Slot(args[0])
	if err != nil {
		return err
	}
	if !json.Valid([]byte(args[1])) {
		return fmt.Errorf("value is not valid JSON: %s", args[1])
	}
	value := json.RawMessage(args[1])

	if _, err := slot.Await(ctx); err != nil {
		return err
	}

	var w *storage.Write
	if len(args) == 3 {
		t, err := tier.Parse(args[2])
		if err != nil {
			return err
		}
		w = slot.SetWithTierOverride(ctx, value, t)
	} else {
		w = slot.Set(ctx, value)
	}

	if err := w.Wait(ctx); err != nil {
		return fmt.Errorf("persisting %s: %w", args[0], err)
	}
	if w.RegistryErr != nil {
		color.New(color.FgYellow).Fprintf(os.Stderr, "  ! overflow registry not saved: %v\n", w.RegistryErr)
	}

	green := color.New(color.FgGreen)
	green.Print("  ✓ ")
	fmt.Printf("%s → %s (%d bytes)", args[0], w.Tier, w.Size)
	if w.Migrated() {
		color.New(color.FgCyan).Printf(" moved from %s", w.Previous)
	}
	fmt.Println()
	return nil
}

func runClear(ctx context.Context, a *app.App, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: covenstore clear <key>")
	}
	slot, err := a.Slot(args[0])
	if err != nil {
		return err
	}

	if err := slot.Clear(ctx).Wait(ctx); err != nil {
		return fmt.Errorf("clearing %s: %w", args[0], err)
	}

	color.New(color.FgGreen).Print("  ✓ ")
	fmt.Printf("%s cleared\n", args[0])
	return nil
}

func runOverflow(ctx context.Context, a *app.App) error {
	keys := a.Manager().Overflow().Keys()
	if len(keys) == 0 {
		color.New(color.FgHiBlack).Println("no overflowing keys")
		return nil
	}
	for _, k := range keys {
		fmt.Println(k)
	}
	return nil
}

func runVersions(ctx context.Context, a *app.App) error {
	versions := a.Manager().Versions().Snapshot()
	if len(versions) == 0 {
		color.New(color.FgHiBlack).Println("no recorded versions")
		return nil
	}

	out, err := json.MarshalIndent(versions, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding versions: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func runWatch(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:  %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Shared:  %s (quota %d bytes)\n", cfg.Tiers.Shared.Path, cfg.Tiers.QuotaBytes)
	green.Print("    ▶ ")
	fmt.Printf("Local:   %s\n", cfg.Tiers.Local.Path)
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics: http://%s%s\n", cfg.Metrics.Addr, cfg.Metrics.Path)
	}
	fmt.Println()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	logger.Info("watching tier databases",
		"shared", cfg.Tiers.Shared.Path,
		"local", cfg.Tiers.Local.Path,
		"debounce", cfg.Watch.Debounce,
	)
	return a.Watch(ctx)
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("coven-storage configuration setup")
	fmt.Println("=================================")
	fmt.Println()

	dataPath := getDataPath()
	outputFile := prompt(reader, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Tier Databases ---")
	sharedPath := prompt(reader, "Shared tier database (put it in a synced folder)", filepath.Join(dataPath, "shared.db"))
	localPath := prompt(reader, "Local tier database", filepath.Join(dataPath, "local.db"))

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(config.Template(sharedPath, localPath)), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	for _, p := range []string{sharedPath, localPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	green := color.New(color.FgGreen)
	green.Printf("\n  ✓ Config written to %s\n", outputFile)
	fmt.Println("\nTry:")
	fmt.Println("  covenstore keys")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// awaitReady blocks until slot leaves Loading and Resetting, so a pending
// version reset is persisted before the process exits.
func awaitReady(ctx context.Context, slot *storage.Slot[json.RawMessage]) error {
	ready := make(chan struct{})
	var once sync.Once
	unsubscribe := slot.Subscribe(func(_ json.RawMessage, state cell.State) {
		if state == cell.Ready {
			once.Do(func() { close(ready) })
		}
	})
	defer unsubscribe()

	if _, state := slot.Get(ctx); state == cell.Ready {
		return nil
	}

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
