// Command st80vm boots a virtual machine from an image snapshot and
// runs it to completion, the command-line surface spec.md §6.4
// describes: an image filename (optionally missing its ".im" suffix),
// a headless toggle for the terminal display, a statistics endpoint,
// and a time-zone offset that is accepted and passed into vm.Config but
// not applied to any clock. There is no status-display option.
// Flag/config wiring follows spf13/cobra and
// BurntSushi/toml the way the rest of this repo's dependency set
// expects a CLI entrypoint to be built, and go.uber.org/zap supplies
// structured logging throughout.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/devhawala/ST80-sub000/internal/hostui"
	"github.com/devhawala/ST80-sub000/internal/vm"
)

// fileConfig is the optional TOML config file's shape (§6.4: "may be
// overridden by a config file"); every field also has a matching CLI
// flag, with the flag taking precedence when explicitly set.
type fileConfig struct {
	HeapWords    int    `toml:"heap_words"`
	OTEntries    int    `toml:"ot_entries"`
	TimezoneMins int    `toml:"timezone_minutes"`
	Statistics   bool   `toml:"statistics"`
	StatsAddr    string `toml:"statistics_addr"`
	Headless     bool   `toml:"headless"`
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath   string
		heapWords    int
		otEntries    int
		timezoneMins int
		statistics   bool
		statsAddr    string
		headless     bool
		save         string
	)

	cmd := &cobra.Command{
		Use:   "st80vm <image>",
		Short: "run a Smalltalk-80 image snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := fileConfig{HeapWords: 1 << 18, OTEntries: 48 * 1024, StatsAddr: ":9090"}
			if configPath != "" {
				if _, err := toml.DecodeFile(configPath, &cfg); err != nil {
					return fmt.Errorf("st80vm: reading config: %w", err)
				}
			}
			if cmd.Flags().Changed("heap-words") {
				cfg.HeapWords = heapWords
			}
			if cmd.Flags().Changed("ot-entries") {
				cfg.OTEntries = otEntries
			}
			if cmd.Flags().Changed("timezone-minutes") {
				cfg.TimezoneMins = timezoneMins
			}
			if cmd.Flags().Changed("statistics") {
				cfg.Statistics = statistics
			}
			if cmd.Flags().Changed("statistics-addr") {
				cfg.StatsAddr = statsAddr
			}
			if cmd.Flags().Changed("headless") {
				cfg.Headless = headless
			}

			return run(args[0], cfg, save)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a TOML config file")
	cmd.Flags().IntVar(&heapWords, "heap-words", 0, "object heap capacity in words")
	cmd.Flags().IntVar(&otEntries, "ot-entries", 0, "object table capacity in entries")
	cmd.Flags().IntVar(&timezoneMins, "timezone-minutes", 0, "minutes offset from UTC (stored in the VM config; not applied to any clock)")
	cmd.Flags().BoolVar(&statistics, "statistics", false, "serve prometheus metrics")
	cmd.Flags().StringVar(&statsAddr, "statistics-addr", "", "address to serve /metrics on")
	cmd.Flags().BoolVar(&headless, "headless", false, "run without a terminal display/event bridge")
	cmd.Flags().StringVar(&save, "save", "", "snapshot filename to save to on exit (defaults to the input image)")

	return cmd
}

func run(imagePath string, cfg fileConfig, save string) error {
	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("st80vm: building logger: %w", err)
	}
	defer log.Sync()

	vmCfg := vm.DefaultConfig()
	if cfg.HeapWords > 0 {
		vmCfg.HeapWords = cfg.HeapWords
	}
	if cfg.OTEntries > 0 {
		vmCfg.OTEntries = cfg.OTEntries
	}
	vmCfg.TimezoneMins = cfg.TimezoneMins

	machine, err := vm.LoadFile(imagePath, vmCfg, log)
	if err != nil {
		return fmt.Errorf("st80vm: loading image: %w", err)
	}

	if save != "" {
		machine.SetSnapshotFilename(save)
	} else {
		machine.SetSnapshotFilename(imagePath)
	}

	if cfg.Statistics {
		addr := cfg.StatsAddr
		if addr == "" {
			addr = ":9090"
		}
		go serveStatistics(addr, machine.Registry, log)
	}

	if !cfg.Headless {
		host, err := hostui.New()
		if err != nil {
			log.Warn("terminal display unavailable, continuing headless", zap.Error(err))
		} else {
			defer host.Close()
			machine.Display = host
			host.Start(machine.InputEvent)
			defer host.Stop()
		}
	}

	log.Info("image loaded", zap.String("image", imagePath))

	if err := machine.Run(); err != nil {
		saveErr := machine.SaveSnapshot()
		if saveErr != nil {
			log.Error("saving snapshot after run error", zap.Error(saveErr))
		}
		return fmt.Errorf("st80vm: run: %w", err)
	}

	return machine.SaveSnapshot()
}

func serveStatistics(addr string, reg *prometheus.Registry, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	log.Info("serving statistics", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("statistics server stopped", zap.Error(err))
	}
}
