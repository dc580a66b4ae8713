package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/JonMunkholm/sheets/internal/formula"
)

func newEvalCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval <file.xlsx> <formula>",
		Short: "Evaluate a formula against a sheet of the workbook",
		Example: `  sheetcalc eval budget.xlsx "=SUM(B2:B13)"
  sheetcalc eval budget.xlsx "=Totals!A1*2" --sheet Summary`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			wb, err := openWorkbook(cmd.Context(), v, args[0])
			if err != nil {
				return err
			}
			sheet, err := wb.sheet(v.GetString(keySheet))
			if err != nil {
				return err
			}

			value, err := wb.svc.EvaluatePreview(cmd.Context(), sheet.ID, args[1])
			var ferr *formula.Error
			if errors.As(err, &ferr) {
				fmt.Fprintln(cmd.OutOrStdout(), formula.ErrorMarker(ferr))
				return fmt.Errorf("%s: %w", ferr.Kind, err)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}
	cmd.Flags().StringP(keySheet, "s", "", "sheet to evaluate against (default: first sheet)")
	return cmd
}
