package ingestion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/opencivic/srhistory/internal/domain"
	"github.com/opencivic/srhistory/internal/repository"
	"github.com/opencivic/srhistory/internal/tracker"
)

var (
	// ErrUnsupportedFormat is returned when an uploaded extract is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}
)

// Mapping describes how extract columns map onto snapshot fields.
type Mapping struct {
	EntityType      string
	KeyColumn       string
	TimestampColumn string
	// RetiredColumn, when set, marks rows whose truthy value retires the key.
	RetiredColumn string
}

// Service turns CSV/XLSX service-request extracts into snapshot batches and
// hands them to the tracker.
type Service struct {
	tracker       *tracker.Service
	rejectionRepo repository.RejectionRepository
	mapping       Mapping
	log           *zap.Logger
}

// NewService creates a new ingestion service.
func NewService(
	trackerService *tracker.Service,
	rejectionRepo repository.RejectionRepository,
	mapping Mapping,
	log *zap.Logger,
) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		tracker:       trackerService,
		rejectionRepo: rejectionRepo,
		mapping:       mapping,
		log:           log,
	}
}

// Request describes the ingestion input.
type Request struct {
	FileName       string
	HeaderRowIndex *int
	Data           io.Reader
}

// Summary returns ingestion level metrics alongside the tracker's report.
type Summary struct {
	TotalRows      int            `json:"totalRows"`
	SnapshotsBuilt int            `json:"snapshotsBuilt"`
	InvalidRows    int            `json:"invalidRows"`
	Report         tracker.Report `json:"report"`
}

type tableData struct {
	headers        []string
	rawHeaders     []string
	rows           [][]string
	headerRowIndex int
}

// Ingest reads the uploaded extract, builds snapshots row by row, and applies
// the resulting batch. Rows missing the key or timestamp column are rejected
// individually and never abort the rest of the file.
func (s *Service) Ingest(ctx context.Context, req Request) (Summary, error) {
	summary := Summary{}

	if strings.TrimSpace(s.mapping.KeyColumn) == "" || strings.TrimSpace(s.mapping.TimestampColumn) == "" {
		return summary, errors.New("key and timestamp column mapping is required")
	}
	if req.Data == nil {
		return summary, errors.New("data reader is required")
	}

	payload, err := io.ReadAll(req.Data)
	if err != nil {
		return summary, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(payload) == 0 {
		return summary, errors.New("file is empty")
	}

	table, err := parseTable(req.FileName, payload, req.HeaderRowIndex)
	if err != nil {
		return summary, err
	}
	if len(table.headers) == 0 {
		return summary, errors.New("no header row detected")
	}

	columnIndex := make(map[string]int, len(table.headers))
	for idx, header := range table.headers {
		columnIndex[header] = idx
	}
	keyIdx, ok := columnIndex[s.mapping.KeyColumn]
	if !ok {
		return summary, fmt.Errorf("key column %q not found in extract", s.mapping.KeyColumn)
	}
	tsIdx, ok := columnIndex[s.mapping.TimestampColumn]
	if !ok {
		return summary, fmt.Errorf("timestamp column %q not found in extract", s.mapping.TimestampColumn)
	}
	retiredIdx := -1
	if s.mapping.RetiredColumn != "" {
		if idx, found := columnIndex[s.mapping.RetiredColumn]; found {
			retiredIdx = idx
		}
	}

	summary.TotalRows = len(table.rows)

	batch := make([]domain.Snapshot, 0, len(table.rows))
	for rowIdx, row := range table.rows {
		rowNumber := table.headerRowIndex + rowIdx + 2 // include header row (1-based)

		key := strings.TrimSpace(cellAt(row, keyIdx))
		if key == "" {
			summary.InvalidRows++
			s.rejectRow(ctx, req.FileName, rowNumber, "", domain.ErrMissingBusinessKey.Error())
			continue
		}

		tsRaw := strings.TrimSpace(cellAt(row, tsIdx))
		observedAt, tsErr := domain.ParseTimestamp(tsRaw)
		if tsRaw == "" || tsErr != nil {
			summary.InvalidRows++
			s.rejectRow(ctx, req.FileName, rowNumber, key, domain.ErrMissingObservedAt.Error())
			continue
		}

		attributes := make(map[string]any, len(table.headers))
		for colIdx, header := range table.headers {
			raw := strings.TrimSpace(cellAt(row, colIdx))
			if raw == "" {
				continue
			}
			attributes[header] = coerceCell(raw)
		}

		snapshot := domain.NewSnapshot(key, s.mapping.EntityType, observedAt, attributes)
		number := rowNumber
		snapshot.RowNumber = &number
		if retiredIdx >= 0 {
			snapshot.Retired = truthy(cellAt(row, retiredIdx))
		}
		batch = append(batch, snapshot)
	}

	summary.SnapshotsBuilt = len(batch)

	report, err := s.tracker.Apply(ctx, batch)
	if err != nil {
		return summary, fmt.Errorf("failed to apply batch: %w", err)
	}
	summary.Report = report

	s.log.Info("extract ingested",
		zap.String("file", req.FileName),
		zap.Int("rows", summary.TotalRows),
		zap.Int("invalid", summary.InvalidRows),
		zap.Int("versions_created", report.VersionsCreated),
		zap.Int("absorbed", report.Absorbed))

	return summary, nil
}

func (s *Service) rejectRow(ctx context.Context, fileName string, rowNumber int, key string, reason string) {
	if s.rejectionRepo == nil {
		return
	}
	number := rowNumber
	entry := domain.SnapshotRejection{
		BusinessKey: key,
		EntityType:  s.mapping.EntityType,
		SourceFile:  fileName,
		RowNumber:   &number,
		Reason:      reason,
	}
	if err := s.rejectionRepo.Record(ctx, entry); err != nil {
		s.log.Warn("failed to record rejection", zap.Error(err))
	}
}

func cellAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func truthy(raw string) bool {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case "1", "yes", "y", "true", "t":
		return true
	}
	return false
}

// coerceCell interprets a cell value with the narrowest type that fits, so
// attribute comparison sees numbers and timestamps rather than strings.
func coerceCell(raw string) any {
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	lower := strings.ToLower(raw)
	if lower == "true" || lower == "false" {
		value, _ := strconv.ParseBool(lower)
		return value
	}
	if ts, err := domain.ParseTimestamp(raw); err == nil {
		return ts
	}
	return raw
}

func parseTable(fileName string, payload []byte, headerRowIndex *int) (tableData, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		return parseCSV(payload, headerRowIndex)
	case ".xlsx":
		return parseExcel(payload, headerRowIndex)
	default:
		return tableData{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func parseCSV(payload []byte, headerRowIndex *int) (tableData, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return tableData{}, fmt.Errorf("failed to read csv: %w", err)
	}

	return normalizeTable(records, headerRowIndex)
}

func parseExcel(payload []byte, headerRowIndex *int) (tableData, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return tableData{}, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return tableData{}, errors.New("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return tableData{}, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}

	return normalizeTable(rows, headerRowIndex)
}

func normalizeTable(records [][]string, headerRowIndex *int) (tableData, error) {
	if len(records) == 0 {
		return tableData{}, errors.New("no rows found in file")
	}

	var headerRow []string
	var dataRows [][]string
	headerIndex := -1

	if headerRowIndex != nil {
		if *headerRowIndex < 0 || *headerRowIndex >= len(records) {
			return tableData{}, fmt.Errorf("header row index %d out of range", *headerRowIndex)
		}
		selected := cleanRow(records[*headerRowIndex])
		if len(selected) == 0 {
			return tableData{}, fmt.Errorf("selected header row %d is empty", *headerRowIndex+1)
		}
		headerRow = records[*headerRowIndex]
		headerIndex = *headerRowIndex
		for idx := *headerRowIndex + 1; idx < len(records); idx++ {
			row := records[idx]
			if len(cleanRow(row)) == 0 {
				continue
			}
			dataRows = append(dataRows, row)
		}
	} else {
		for idx, row := range records {
			if len(cleanRow(row)) == 0 {
				continue
			}
			if headerRow == nil {
				headerRow = row
				headerIndex = idx
				continue
			}
			dataRows = append(dataRows, row)
		}
	}

	if headerRow == nil {
		return tableData{}, errors.New("header row could not be detected")
	}

	headers := sanitizeHeaders(headerRow)
	rawHeaders := make([]string, len(headerRow))
	for i, value := range headerRow {
		rawHeaders[i] = strings.TrimSpace(value)
	}

	for i := range dataRows {
		dataRows[i] = padRow(dataRows[i], len(headers))
	}

	dataRows = filterEmptyRows(dataRows)

	return tableData{
		headers:        headers,
		rawHeaders:     rawHeaders,
		rows:           dataRows,
		headerRowIndex: headerIndex,
	}, nil
}

func cleanRow(row []string) []string {
	var cleaned []string
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			cleaned = append(cleaned, cell)
		}
	}
	return cleaned
}

func sanitizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int)

	for idx, value := range raw {
		name := strings.TrimSpace(value)
		name = strings.ReplaceAll(name, " ", "_")
		name = strings.ReplaceAll(name, ".", "_")
		name = strings.ReplaceAll(name, "-", "_")
		name = strings.Trim(name, "_")
		name = strings.ToLower(name)
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
		}

		base := name
		count := seen[base]
		if count > 0 {
			name = fmt.Sprintf("%s_%d", base, count+1)
		}
		seen[base] = count + 1

		headers[idx] = name
	}

	return headers
}

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row[:length]
	}
	padded := make([]string, length)
	copy(padded, row)
	for i := len(row); i < length; i++ {
		padded[i] = ""
	}
	return padded
}

func filterEmptyRows(rows [][]string) [][]string {
	var filtered [][]string
	for _, row := range rows {
		keep := false
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				keep = true
				break
			}
		}
		if keep {
			filtered = append(filtered, row)
		}
	}
	return filtered
}
