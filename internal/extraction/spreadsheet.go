package extraction

import (
	"encoding/csv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// extractSpreadsheet flattens every sheet to CSV, sheets separated by a
// blank line
func extractSpreadsheet(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var sheets []string
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return "", err
		}
		if len(rows) == 0 {
			continue
		}

		var sb strings.Builder
		w := csv.NewWriter(&sb)
		if err := w.WriteAll(rows); err != nil {
			return "", err
		}
		if s := strings.TrimRight(sb.String(), "\n"); s != "" {
			sheets = append(sheets, s)
		}
	}
	return strings.Join(sheets, "\n\n"), nil
}
