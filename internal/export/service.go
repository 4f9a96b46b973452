package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/opencivic/srhistory/internal/domain"
	"github.com/opencivic/srhistory/internal/repository"
)

// Format selects the download encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat maps a user-supplied format string onto a Format.
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "csv":
		return FormatCSV, nil
	case "xlsx":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", raw)
	}
}

// Service streams history rows out as tabular downloads.
type Service struct {
	historyRepo repository.HistoryRepository
	pageSize    int
}

// NewService creates a new export service.
func NewService(historyRepo repository.HistoryRepository) *Service {
	return &Service{historyRepo: historyRepo, pageSize: 1000}
}

// ExportKey writes a key's full history to the writer in the given format.
func (s *Service) ExportKey(ctx context.Context, w io.Writer, businessKey string, format Format) error {
	if strings.TrimSpace(businessKey) == "" {
		return errors.New("business key is required")
	}
	rows, err := s.historyRepo.ListByKey(ctx, businessKey)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	return writeRows(w, rows, format)
}

// ExportCurrent writes all open rows for an entity type to the writer.
func (s *Service) ExportCurrent(ctx context.Context, w io.Writer, entityType string, format Format) error {
	all := []domain.HistoryRow{}
	offset := 0
	for {
		page, err := s.historyRepo.ListCurrent(ctx, entityType, s.pageSize, offset)
		if err != nil {
			return fmt.Errorf("failed to load current rows: %w", err)
		}
		all = append(all, page...)
		if len(page) < s.pageSize {
			break
		}
		offset += s.pageSize
	}
	return writeRows(w, all, format)
}

var baseColumns = []string{"business_key", "entity_type", "version", "valid_from", "valid_to", "is_current"}

func writeRows(w io.Writer, rows []domain.HistoryRow, format Format) error {
	headers := append(append([]string{}, baseColumns...), attributeColumns(rows)...)

	records := make([][]string, 0, len(rows)+1)
	records = append(records, headers)
	for _, row := range rows {
		records = append(records, recordFor(row, headers))
	}

	switch format {
	case FormatXLSX:
		return writeXLSX(w, records)
	default:
		return writeCSV(w, records)
	}
}

// attributeColumns collects every attribute name seen across the rows so the
// output is rectangular even when versions carried different fields.
func attributeColumns(rows []domain.HistoryRow) []string {
	seen := map[string]bool{}
	for _, row := range rows {
		for name := range row.Attributes {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func recordFor(row domain.HistoryRow, headers []string) []string {
	record := make([]string, len(headers))
	record[0] = row.BusinessKey
	record[1] = row.EntityType
	record[2] = fmt.Sprintf("%d", row.Version)
	record[3] = row.ValidFrom.Format(time.RFC3339)
	if row.ValidTo != nil {
		record[4] = row.ValidTo.Format(time.RFC3339)
	}
	record[5] = fmt.Sprintf("%t", row.IsCurrent())

	for i := len(baseColumns); i < len(headers); i++ {
		record[i] = formatCell(row.Attributes[headers[i]])
	}
	return record
}

func formatCell(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case time.Time:
		return typed.Format(time.RFC3339)
	case float64, int64, int, bool:
		return fmt.Sprintf("%v", typed)
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprintf("%v", typed)
		}
		return string(encoded)
	}
}

func writeCSV(w io.Writer, records [][]string) error {
	writer := csv.NewWriter(w)
	for _, record := range records {
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write csv record: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}

func writeXLSX(w io.Writer, records [][]string) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	for rowIdx, record := range records {
		cell, err := excelize.CoordinatesToCellName(1, rowIdx+1)
		if err != nil {
			return fmt.Errorf("failed to compute cell name: %w", err)
		}
		values := make([]any, len(record))
		for i, v := range record {
			values[i] = v
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("failed to write sheet row: %w", err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write xlsx: %w", err)
	}
	return nil
}
