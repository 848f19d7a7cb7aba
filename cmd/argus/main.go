package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/argusengine/argus/internal/config"
	"github.com/argusengine/argus/internal/persist"
	"github.com/argusengine/argus/internal/system"
)

const defaultConfigPath = "config/engine.toml"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "argus",
		Short:         "Argus two-context frame scheduler",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cfgPath)
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default $ARGUS_CONFIG or "+defaultConfigPath+")")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Start the engine",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cfgPath)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "modules",
		Short: "Print the enabled modules in initialization order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listModules(cmd, cfgPath)
		},
	})

	var limit int
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent journaled runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listRuns(cmd, cfgPath, limit)
		},
	}
	runsCmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of runs to show")
	root.AddCommand(runsCmd)

	return root
}

// resolveConfigPath prefers the flag, then $ARGUS_CONFIG, then the default.
func resolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if p := os.Getenv("ARGUS_CONFIG"); p != "" {
		return p
	}
	return defaultConfigPath
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner() {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m               Argus  v0.1.0               \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m      update + render frame scheduler      \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
}

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, value any) {
	valStr := fmt.Sprint(value)
	dotsLen := 42 - len(label) - len(valStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), valStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Engine ────────────────────────────────────────────────────────

func run(cfgFlag string) error {
	// 1. Load config
	cfgPath := resolveConfigPath(cfgFlag)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging, cfg.Render.Backend == "terminal")
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner()
	printSection("Config")
	printStat("file", cfgPath)
	printStat("tick rate", cfg.Engine.TargetTickRate)
	printStat("frame rate", cfg.Engine.TargetFrameRate)
	printStat("render backend", cfg.Render.Backend)
	fmt.Println()

	// 3. Journal database, when enabled
	var store system.JournalStore
	if cfg.Journal.Enabled {
		printSection("Journal")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		db, err := persist.Open(ctx, cfg.Database, log)
		cancel()
		if err != nil {
			return fmt.Errorf("journal database: %w", err)
		}
		defer db.Close()
		store = persist.NewRunRepo(db)
		printOK("PostgreSQL connected, migrations applied")
		fmt.Println()
	}

	// 4. Build the engine and its modules
	a, err := build(cfg, log, store)
	if err != nil {
		return err
	}
	mods, err := a.eng.ResolveModules()
	if err != nil {
		return fmt.Errorf("resolve modules: %w", err)
	}
	printSection("Modules")
	for i, m := range mods {
		printStat(m.ID, i+1)
	}
	fmt.Println()

	if err := a.eng.Initialize(); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	objects, groups, lights := a.scene.Counts()
	printSection("Scene")
	printStat("objects", objects)
	printStat("groups", groups)
	printStat("lights", lights)
	fmt.Println()

	// 5. Stop on signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		sig, ok := <-sigCh
		if !ok {
			return
		}
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
		a.eng.Stop()
	}()

	printSection("Running")
	printReady(fmt.Sprintf("update loop at %d/s, render loop at %d/s", cfg.Engine.TargetTickRate, cfg.Engine.TargetFrameRate))
	if cfg.Render.Backend == "terminal" {
		printReady("press q to quit")
	} else {
		printReady("press Ctrl-C to quit")
	}
	fmt.Println()

	// 6. Run until stopped; the update loop owns this goroutine
	if err := a.eng.Start(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	st := a.stats.Snapshot()
	printSection("Stopped")
	printStat("update frames", st.Update.Frames)
	printStat("render frames", st.Render.Frames)
	return nil
}

func listModules(cmd *cobra.Command, cfgFlag string) error {
	cfg, err := config.Load(resolveConfigPath(cfgFlag))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a, err := build(cfg, zap.NewNop(), nil)
	if err != nil {
		return err
	}
	mods, err := a.eng.ResolveModules()
	if err != nil {
		return fmt.Errorf("resolve modules: %w", err)
	}
	out := cmd.OutOrStdout()
	for i, m := range mods {
		deps := "-"
		if len(m.DependsOn) > 0 {
			deps = strings.Join(m.DependsOn, ", ")
		}
		fmt.Fprintf(out, "%2d  %-10s  depends on: %s\n", i+1, m.ID, deps)
	}
	return nil
}

func listRuns(cmd *cobra.Command, cfgFlag string, limit int) error {
	cfg, err := config.Load(resolveConfigPath(cfgFlag))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	db, err := persist.Open(ctx, cfg.Database, zap.NewNop())
	if err != nil {
		return fmt.Errorf("journal database: %w", err)
	}
	defer db.Close()

	runs, err := persist.NewRunRepo(db).RecentRuns(ctx, limit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, r := range runs {
		took := "running"
		if r.FinishedAt != nil {
			took = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(out, "%s  %s  %-12s  %3d/%-3d  %s\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), took, r.TickRate, r.FrameRate, r.Host)
	}
	return nil
}

// newLogger builds the process logger. Console output is colored and terse;
// when the terminal backend owns the screen, output goes to a file.
func newLogger(cfg config.LoggingConfig, ownsTerminal bool) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	file := cfg.File
	if file == "" && ownsTerminal {
		file = "argus.log"
	}
	if file != "" {
		if cfg.Format != "json" {
			zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		}
		zapCfg.OutputPaths = []string{file}
		zapCfg.ErrorOutputPaths = []string{file}
	}

	return zapCfg.Build()
}
