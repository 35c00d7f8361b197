package batch

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"rookery/internal/domain"
)

// Export formats understood by WriteExport.
const (
	ExportJSON = "json"
	ExportCSV  = "csv"
	ExportTXT  = "txt"
)

var ErrExportFormatUnknown = errors.New("unknown export format")

type exportRow struct {
	Index    uint            `json:"index"`
	Status   string          `json:"status"`
	Attempts uint            `json:"attempts"`
	Proxy    string          `json:"proxy,omitempty"`
	Error    string          `json:"error,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
}

// WriteExport renders items to w. JSON and CSV carry the full item state;
// TXT emits only the raw result payloads of succeeded items, one per line.
func WriteExport(w io.Writer, items []domain.BatchItem, format string) error {
	switch format {
	case ExportJSON:
		return writeJSON(w, items)
	case ExportCSV:
		return writeCSV(w, items)
	case ExportTXT:
		return writeTXT(w, items)
	default:
		return fmt.Errorf("%w: %q", ErrExportFormatUnknown, format)
	}
}

func writeJSON(w io.Writer, items []domain.BatchItem) error {
	rows := make([]exportRow, 0, len(items))
	for _, item := range items {
		rows = append(rows, exportRow{
			Index:    item.ItemIndex,
			Status:   item.Status,
			Attempts: item.Attempts,
			Proxy:    item.LastProxy,
			Error:    item.LastError,
			Result:   exportResult(item.ResultPayload),
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rows); err != nil {
		return fmt.Errorf("export: encode json: %w", err)
	}
	return nil
}

// exportResult embeds the payload when it already is JSON and quotes it as a
// JSON string otherwise; the payload is an opaque blob, a flow may hand back
// plain text.
func exportResult(payload []byte) json.RawMessage {
	if len(payload) == 0 {
		return nil
	}
	if json.Valid(payload) {
		return json.RawMessage(payload)
	}
	quoted, err := json.Marshal(string(payload))
	if err != nil {
		return nil
	}
	return quoted
}

func writeCSV(w io.Writer, items []domain.BatchItem) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"index", "status", "attempts", "proxy", "error", "result"}); err != nil {
		return fmt.Errorf("export: write csv header: %w", err)
	}
	for _, item := range items {
		row := []string{
			strconv.FormatUint(uint64(item.ItemIndex), 10),
			item.Status,
			strconv.FormatUint(uint64(item.Attempts), 10),
			item.LastProxy,
			item.LastError,
			string(item.ResultPayload),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("export: write csv row %d: %w", item.ItemIndex, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("export: flush csv: %w", err)
	}
	return nil
}

func writeTXT(w io.Writer, items []domain.BatchItem) error {
	for _, item := range items {
		if item.Status != domain.ItemStatusSucceeded || len(item.ResultPayload) == 0 {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s\n", item.ResultPayload); err != nil {
			return fmt.Errorf("export: write txt row %d: %w", item.ItemIndex, err)
		}
	}
	return nil
}
