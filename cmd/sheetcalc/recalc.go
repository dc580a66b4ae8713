package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/JonMunkholm/sheets/internal/formula"
)

func newRecalcCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recalc <file.xlsx>",
		Short: "Recalculate every formula and report the results",
		Long: `recalc re-evaluates every formula of every sheet once, in row and column
order, and prints a summary per sheet. With -o the recalculated workbook is
written to a new file; the input file is never modified.`,
		Example: `  sheetcalc recalc budget.xlsx -o budget-recalculated.xlsx`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			wb, err := openWorkbook(ctx, v, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			failed := 0
			for _, sheet := range wb.detail.Sheets {
				res, err := wb.svc.RecalculateSheet(ctx, sheet.ID)
				if err != nil {
					return err
				}
				failed += res.Failed
				fmt.Fprintf(out, "%s: %d formulas, %d errors\n", sheet.Name, len(res.Updated), res.Failed)
				for _, c := range res.Updated {
					if formula.IsError(c.Value) {
						fmt.Fprintf(out, "  %s %s -> %s\n", c.Coord(), c.Formula, c.Value)
					}
				}
			}

			if path := v.GetString(keyOutput); path != "" {
				f, err := os.Create(path)
				if err != nil {
					return err
				}
				if err := wb.svc.ExportWorkbook(ctx, wb.detail.ID, f); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				fmt.Fprintf(out, "wrote %s\n", path)
			}

			if failed > 0 {
				return fmt.Errorf("%d formulas failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().StringP(keyOutput, "o", "", "write the recalculated workbook to this file")
	return cmd
}
