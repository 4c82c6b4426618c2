package tabular

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Write encodes t as CSV with a header row and LF line endings.
func Write(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return eris.Wrap(err, "tabular: write header")
	}
	for i, row := range t.Rows {
		if err := cw.Write(pad(row, len(t.Header))); err != nil {
			return eris.Wrapf(err, "tabular: write row %d", i+1)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "tabular: flush")
}

// WriteFile writes t as CSV to path. The file is written to a temporary name
// in the same directory and renamed into place, so readers never observe a
// partial stage output.
func WriteFile(path string, t *Table) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "tabular: create dir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return eris.Wrapf(err, "tabular: create temp for %s", path)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if err := Write(tmp, t); err != nil {
		tmp.Close() //nolint:errcheck
		return err
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "tabular: close temp for %s", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return eris.Wrapf(err, "tabular: rename into %s", path)
	}
	return nil
}

// WriteXLSX writes t to a single-sheet workbook at path.
func WriteXLSX(path, sheetName string, t *Table) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return eris.Wrapf(err, "tabular: add sheet %s", sheetName)
	}

	addRow(sheet, t.Header)
	for _, row := range t.Rows {
		addRow(sheet, pad(row, len(t.Header)))
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "tabular: save %s", path)
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, cells []string) {
	row := sheet.AddRow()
	for _, c := range cells {
		row.AddCell().SetString(c)
	}
}

func pad(row []string, n int) []string {
	if len(row) >= n {
		return row
	}
	out := make([]string, n)
	copy(out, row)
	return out
}
