package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newDepsCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deps <file.xlsx> <cell>",
		Short: "List the formula cells that reference a cell",
		Long: `deps lists the formula cells on the same sheet whose formula mentions the
cell directly or through a range. References from other sheets are not listed.`,
		Example: `  sheetcalc deps budget.xlsx B2 --sheet Summary`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			wb, err := openWorkbook(cmd.Context(), v, args[0])
			if err != nil {
				return err
			}
			sheet, err := wb.sheet(v.GetString(keySheet))
			if err != nil {
				return err
			}

			deps, err := wb.svc.Dependents(cmd.Context(), sheet.ID, args[1])
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, d := range deps {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Coord(), d.Formula, d.Value)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringP(keySheet, "s", "", "sheet holding the cell (default: first sheet)")
	return cmd
}
