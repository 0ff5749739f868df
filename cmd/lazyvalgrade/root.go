package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/VirtusLab/lazyvalgrade/internal/config"
	"github.com/VirtusLab/lazyvalgrade/internal/logging"
)

var (
	cfgViper   *viper.Viper
	resolveCfg func() config.Config
)

var rootCmd = &cobra.Command{
	Use:   "lazyvalgrade",
	Short: "Retrofit Scala lazy val accessors onto the VarHandle scheme.",
	Long: `lazyvalgrade rewrites compiled Scala 3 classes whose lazy val accessors
still use the sun.misc.Unsafe or inline-bitmap schemes, replacing them with
the java.lang.invoke.VarHandle scheme Scala 3.8 targets, without recompiling
from source.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c := resolveCfg()
		level := slog.LevelInfo
		if c.Verbose {
			level = slog.LevelDebug
		}
		var sink *os.File
		if c.LogFile != "" {
			f, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return fmt.Errorf("opening log file: %w", err)
			}
			sink = f
		}
		if sink != nil {
			logging.Setup(sink, level, c.Verbose)
		} else {
			logging.Setup(nil, level, c.Verbose)
		}
		return nil
	},
}

func init() {
	color.NoColor = false
	cfgViper, resolveCfg = config.Bind(rootCmd)
}

// Execute runs the root command, the sole entry point main calls.
func Execute() error {
	return rootCmd.Execute()
}
