package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/JonMunkholm/sheets/internal/core"
	"github.com/JonMunkholm/sheets/internal/store"
)

// workbook is an .xlsx file loaded into an in-memory service.
type workbook struct {
	svc    *core.Service
	detail core.SpreadsheetDetail
}

// openWorkbook imports path and recalculates every sheet.
func openWorkbook(ctx context.Context, v *viper.Viper, path string) (*workbook, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	svc := core.NewService(store.NewMemory(), engineConfig(v))
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	detail, err := svc.ImportWorkbook(ctx, name, f)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return &workbook{svc: svc, detail: detail}, nil
}

// sheet returns the named sheet, or the first sheet when name is empty.
func (w *workbook) sheet(name string) (store.Sheet, error) {
	if name == "" {
		return w.detail.Sheets[0], nil
	}
	for _, sh := range w.detail.Sheets {
		if strings.EqualFold(sh.Name, name) {
			return sh, nil
		}
	}
	names := make([]string, len(w.detail.Sheets))
	for i, sh := range w.detail.Sheets {
		names[i] = sh.Name
	}
	return store.Sheet{}, fmt.Errorf("sheet %q not found (have %s)", name, strings.Join(names, ", "))
}
