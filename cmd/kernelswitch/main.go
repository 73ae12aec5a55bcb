// Package main provides the kernelswitch CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/orneryd/kernelswitch/pkg/accel"
	"github.com/orneryd/kernelswitch/pkg/algorithms/bfs"
	"github.com/orneryd/kernelswitch/pkg/config"
	"github.com/orneryd/kernelswitch/pkg/graph"
	"github.com/orneryd/kernelswitch/pkg/harness"
	"github.com/orneryd/kernelswitch/pkg/pool"
	"github.com/orneryd/kernelswitch/pkg/predictor"
	"github.com/orneryd/kernelswitch/pkg/statcache"
	"github.com/orneryd/kernelswitch/pkg/switching"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// poolMaxSize caps the capacity of pooled buffers, in elements.
const poolMaxSize = 1 << 20

func main() {
	rootCmd := &cobra.Command{
		Use:   "kernelswitch",
		Short: "kernelswitch - adaptive kernel selection for graph analytics",
		Long: `kernelswitch runs graph algorithms whose step kernels come in several
interchangeable implementations, and lets a prediction model pick the
implementation before every step.

Models are Go plugins (.so) or YAML decision trees (.yaml).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("kernelswitch v%s (%s)\n", version, commit)
		},
	})

	rootCmd.AddCommand(newRunCmd())

	// Stats command
	statsCmd := &cobra.Command{
		Use:   "stats [graph]",
		Short: "Print degree statistics of a graph",
		Args:  cobra.ExactArgs(1),
		RunE:  runStats,
	}
	statsCmd.Flags().String("stat-cache", "", "Degree statistics cache directory")
	rootCmd.AddCommand(statsCmd)

	// Model command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "model [path]",
		Short: "Print the implementations and properties of a prediction model",
		Args:  cobra.ExactArgs(1),
		RunE:  runModel,
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run BFS on a graph",
		Long:  "Run a breadth-first search, either with a single kernel or switching between kernels under a prediction model",
		RunE:  runBFS,
	}
	runCmd.Flags().String("graph", "", "Edge-list graph file")
	runCmd.Flags().Uint32("root", 0, "Source vertex")
	runCmd.Flags().StringP("model", "m", "", "Prediction model (.so plugin or .yaml tree)")
	runCmd.Flags().StringP("log", "l", "", "Property log file")
	runCmd.Flags().IntP("warp", "w", 32, "Warp size for a fixed warp kernel")
	runCmd.Flags().IntP("chunk", "c", 32, "Chunk size for a fixed warp kernel")
	runCmd.Flags().String("kernel", "", "Run a single kernel instead of switching")
	runCmd.Flags().String("config", "", "YAML configuration file")
	runCmd.Flags().String("stat-cache", "", "Degree statistics cache directory")
	runCmd.Flags().Bool("levels", false, "Print the level of every vertex")
	_ = runCmd.MarkFlagRequired("graph")
	return runCmd
}

// loadConfig merges the config file, environment and explicitly set flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg := config.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = config.LoadConfig(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()

	flags := cmd.Flags()
	if flags.Changed("model") {
		cfg.Model, _ = flags.GetString("model")
	}
	if flags.Changed("log") {
		cfg.LogFile, _ = flags.GetString("log")
	}
	if flags.Changed("warp") {
		cfg.WarpSize, _ = flags.GetInt("warp")
	}
	if flags.Changed("chunk") {
		cfg.ChunkSize, _ = flags.GetInt("chunk")
	}
	if flags.Changed("stat-cache") {
		cfg.StatCacheDir, _ = flags.GetString("stat-cache")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newBackend configures buffer pooling and builds the host backend.
func newBackend(cfg *config.Config) *accel.HostBackend {
	pool.Configure(pool.PoolConfig{Enabled: cfg.Pooling, MaxSize: poolMaxSize})
	return accel.NewHostBackend(accel.HostOptions{
		Workers:            cfg.Backend.Workers,
		MaxThreadsPerBlock: cfg.Backend.MaxThreadsPerBlock,
		MaxDeviceMemory:    cfg.Backend.MaxDeviceMemory,
	})
}

func openStatCache(dir string) (*statcache.Cache, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating statistics cache directory: %w", err)
	}
	return statcache.Open(dir)
}

func runBFS(cmd *cobra.Command, args []string) error {
	graphPath, _ := cmd.Flags().GetString("graph")
	root, _ := cmd.Flags().GetUint32("root")
	kernelName, _ := cmd.Flags().GetString("kernel")
	printLevels, _ := cmd.Flags().GetBool("levels")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	fmt.Printf("🚀 kernelswitch v%s: %s\n", version, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend := newBackend(cfg)
	kernels, err := bfs.Kernels(backend)
	if err != nil {
		return err
	}
	loader := graph.NewLoader(backend)

	var run harness.Config
	if kernelName != "" {
		k, ok := kernels.Get(kernelName)
		if !ok {
			return fmt.Errorf("unknown kernel %q (have %v)", kernelName, kernels.Names())
		}
		h := harness.ForKernel(backend, loader, k)
		if w, ok := h.(*harness.WarpHarness); ok {
			w.SetWarpSize(cfg.WarpSize)
			w.SetChunkSize(cfg.ChunkSize)
		}
		run = h
	} else {
		cache, err := openStatCache(cfg.StatCacheDir)
		if err != nil {
			return err
		}
		if cache != nil {
			defer cache.Close()
		}
		run = switching.New(backend, loader, kernels, switching.Options{
			ModelPath: cfg.Model,
			LogPath:   cfg.LogFile,
			StatCache: cache,
		})
	}

	fmt.Printf("📂 Loading %s...\n", graphPath)
	if err := run.LoadGraph(ctx, graphPath); err != nil {
		return fmt.Errorf("loading graph: %w", err)
	}
	defer run.FreeGraph()
	fmt.Printf("   ✅ %d vertices, %d edges\n", run.VertexCount(), run.EdgeCount())

	res, err := bfs.Run(ctx, run, backend, root)
	if err != nil {
		return err
	}
	fmt.Printf("   ✅ root %d: reached %d of %d vertices in %d levels (%d launches)\n",
		root, res.Visited, run.VertexCount(), res.Depth, backend.Launches())

	if printLevels {
		for v, l := range res.Levels {
			fmt.Printf("%d %d\n", v, l)
		}
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	dir, _ := cmd.Flags().GetString("stat-cache")

	g, err := graph.LoadFile(args[0])
	if err != nil {
		return err
	}

	var stats *statcache.Stats
	cache, err := openStatCache(dir)
	if err != nil {
		return err
	}
	if cache != nil {
		defer cache.Close()
		var hit bool
		if stats, hit, err = cache.Lookup(args[0], g); err != nil {
			return err
		}
		if hit {
			fmt.Println("📦 cached")
		}
	} else {
		stats = statcache.Compute(g)
	}

	fmt.Printf("%s: %d vertices, %d edges\n", args[0], stats.VertexCount, stats.EdgeCount)
	for _, kind := range graph.DegreeKinds {
		values := switching.SummaryValues(stats.Degrees[kind.String()])
		for i, name := range switching.StatNames {
			fmt.Printf("  %-28s %g\n", switching.DegreePropName(name, kind), values[i])
		}
	}
	return nil
}

func runModel(cmd *cobra.Command, args []string) error {
	m, err := predictor.Open(args[0])
	if err != nil {
		return err
	}
	defer m.Close()

	fmt.Println("Implementations:")
	impls := slices.Clone(m.Implementations())
	sort.Slice(impls, func(i, j int) bool { return impls[i].Index < impls[j].Index })
	for _, d := range impls {
		if d.WarpSize > 0 || d.ChunkSize > 0 {
			fmt.Printf("  %d  %s (warp %d, chunk %d)\n", d.Index, d.Name, d.WarpSize, d.ChunkSize)
		} else {
			fmt.Printf("  %d  %s\n", d.Index, d.Name)
		}
	}

	var names []string
	for name := range m.Properties() {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Println("Properties:")
	for _, name := range names {
		fmt.Printf("  %s\n", name)
	}
	return nil
}
