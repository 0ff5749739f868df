// Package config binds the CLI's flags and environment variables via
// github.com/spf13/viper (no config file is read), replacing jacobin's globals.GetGlobalRef()
// singleton with the same "one struct, populated once, read everywhere"
// shape built on top of the ambient stack's config library instead of a
// hand-rolled global.
package config

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config holds every setting a lazyvalgrade run needs, sourced from flags
// and environment variables (LAZYVALGRADE_* prefix, hyphens in a key
// written as underscores, e.g. LAZYVALGRADE_SCAN_ROOT), flags taking
// precedence. No config file is read.
type Config struct {
	ScanRoot    string
	DryRun      bool
	Concurrency int
	Verbose     bool
	LogFile     string
	ScanLimit   int
}

// Bind registers cmd's flags with a dedicated viper instance and returns a
// function that reads the resolved Config after cobra has parsed argv.
func Bind(cmd *cobra.Command) (*viper.Viper, func() Config) {
	v := viper.New()
	v.SetEnvPrefix("LAZYVALGRADE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	flags := cmd.PersistentFlags()
	flags.String("scan-root", ".", "directory or .jar file to scan for class files")
	flags.Bool("dry-run", false, "report what would change without writing any file")
	flags.Int("concurrency", 0, "bound on concurrent group patches (0 means unbounded)")
	flags.Bool("verbose", false, "enable trace-level logging")
	flags.String("log-file", "", "also write structured logs to this file")
	flags.Int("scan-limit", 0, "override the OFFSET/<clinit> backward scan bound (0 means use the default)")

	_ = v.BindPFlag("scan-root", flags.Lookup("scan-root"))
	_ = v.BindPFlag("dry-run", flags.Lookup("dry-run"))
	_ = v.BindPFlag("concurrency", flags.Lookup("concurrency"))
	_ = v.BindPFlag("verbose", flags.Lookup("verbose"))
	_ = v.BindPFlag("log-file", flags.Lookup("log-file"))
	_ = v.BindPFlag("scan-limit", flags.Lookup("scan-limit"))

	return v, func() Config {
		return Config{
			ScanRoot:    v.GetString("scan-root"),
			DryRun:      v.GetBool("dry-run"),
			Concurrency: v.GetInt("concurrency"),
			Verbose:     v.GetBool("verbose"),
			LogFile:     v.GetString("log-file"),
			ScanLimit:   v.GetInt("scan-limit"),
		}
	}
}
