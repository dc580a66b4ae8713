// Package main provides sheetcalc, a command line front end to the formula
// engine. It loads an .xlsx workbook into an in-memory store, recalculates
// it with the engine and answers questions about it.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/JonMunkholm/sheets/internal/config"
	"github.com/JonMunkholm/sheets/internal/logging"
)

// Keys shared by flags, environment (SHEETCALC_*) and viper.
const (
	keySheet         = "sheet"
	keyOutput        = "output"
	keyTransitive    = "transitive"
	keyMaxRangeCells = "max-range-cells"
	keyLogLevel      = "log-level"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("SHEETCALC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "sheetcalc",
		Short: "Evaluate and inspect spreadsheet formulas in .xlsx workbooks",
		Long: `sheetcalc loads an .xlsx workbook, recalculates every formula with the
sheets formula engine and prints results. Flags can also be set through
SHEETCALC_* environment variables, e.g. SHEETCALC_TRANSITIVE=true.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			// stdout carries command output only
			slog.SetDefault(logging.New(cmd.ErrOrStderr(), v.GetString(keyLogLevel), "text"))
			return nil
		},
	}

	root.PersistentFlags().Bool(keyTransitive, false, "recalculate dependents of dependents after each edit")
	root.PersistentFlags().Int(keyMaxRangeCells, 100000, "largest range an aggregate may expand")
	root.PersistentFlags().String(keyLogLevel, "warn", "log level: debug, info, warn, error")

	root.AddCommand(newEvalCmd(v))
	root.AddCommand(newDepsCmd(v))
	root.AddCommand(newRecalcCmd(v))
	return root
}

// engineConfig builds the service configuration the commands run with.
func engineConfig(v *viper.Viper) *config.Config {
	cfg := config.Default()
	cfg.Server.MaxConcurrentImports = 1
	cfg.Server.ImportWait = time.Minute
	cfg.Engine.MaxRangeCells = v.GetInt(keyMaxRangeCells)
	cfg.Engine.TransitiveRecalc = v.GetBool(keyTransitive)
	cfg.Events.Buffer = 1
	return cfg
}
