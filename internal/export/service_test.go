package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/opencivic/srhistory/internal/domain"
)

type fakeHistoryRepo struct {
	byKey   map[string][]domain.HistoryRow
	current []domain.HistoryRow
}

func (f *fakeHistoryRepo) GetCurrent(ctx context.Context, businessKey string) (domain.HistoryRow, bool, error) {
	return domain.HistoryRow{}, false, nil
}
func (f *fakeHistoryRepo) InsertCurrent(ctx context.Context, row domain.HistoryRow) error { return nil }
func (f *fakeHistoryRepo) Transition(ctx context.Context, currentID uuid.UUID, validTo time.Time, next domain.HistoryRow) error {
	return nil
}
func (f *fakeHistoryRepo) Close(ctx context.Context, currentID uuid.UUID, validTo time.Time) error {
	return nil
}
func (f *fakeHistoryRepo) RefreshAttributes(ctx context.Context, currentID uuid.UUID, attributes map[string]any) error {
	return nil
}
func (f *fakeHistoryRepo) ListByKey(ctx context.Context, businessKey string) ([]domain.HistoryRow, error) {
	return f.byKey[businessKey], nil
}
func (f *fakeHistoryRepo) ListCurrent(ctx context.Context, entityType string, limit int, offset int) ([]domain.HistoryRow, error) {
	if offset >= len(f.current) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.current) {
		end = len(f.current)
	}
	return f.current[offset:end], nil
}
func (f *fakeHistoryRepo) CountByKey(ctx context.Context, businessKey string) (int64, error) {
	return int64(len(f.byKey[businessKey])), nil
}

func sampleHistory() []domain.HistoryRow {
	from := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	closed := domain.NewHistoryRow("SR-100", "service_request",
		map[string]any{"status": "Open", "descriptor": "Pothole"}, from, 1)
	closed = closed.Closed(to)

	current := domain.NewHistoryRow("SR-100", "service_request",
		map[string]any{"status": "Completed", "agency": "DOT"}, to, 2)

	return []domain.HistoryRow{closed, current}
}

func TestExportKeyCSV(t *testing.T) {
	repo := &fakeHistoryRepo{byKey: map[string][]domain.HistoryRow{"SR-100": sampleHistory()}}
	service := NewService(repo)

	var buf bytes.Buffer
	if err := service.ExportKey(context.Background(), &buf, "SR-100", FormatCSV); err != nil {
		t.Fatalf("export returned error: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("output is not valid csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d records", len(records))
	}

	header := records[0]
	want := []string{"business_key", "entity_type", "version", "valid_from", "valid_to", "is_current", "agency", "descriptor", "status"}
	if len(header) != len(want) {
		t.Fatalf("expected header %v, got %v", want, header)
	}
	for i := range want {
		if header[i] != want[i] {
			t.Fatalf("expected header %v, got %v", want, header)
		}
	}

	// Attribute sets differ per version; missing cells stay empty.
	if records[1][6] != "" || records[1][7] != "Pothole" {
		t.Fatalf("unexpected closed row cells: %v", records[1])
	}
	if records[1][5] != "false" || records[2][5] != "true" {
		t.Fatalf("is_current column wrong: %v / %v", records[1], records[2])
	}
	if records[2][4] != "" {
		t.Fatalf("current row must have empty valid_to, got %q", records[2][4])
	}
}

func TestExportKeyRequiresKey(t *testing.T) {
	service := NewService(&fakeHistoryRepo{})

	var buf bytes.Buffer
	if err := service.ExportKey(context.Background(), &buf, "  ", FormatCSV); err == nil {
		t.Fatalf("expected error for blank business key")
	}
}

func TestExportCurrentPaginates(t *testing.T) {
	from := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	repo := &fakeHistoryRepo{}
	for i := 0; i < 2500; i++ {
		repo.current = append(repo.current, domain.NewHistoryRow(
			fmt.Sprintf("SR-%04d", i), "service_request",
			map[string]any{"status": "Open"}, from, 1))
	}
	service := NewService(repo)

	var buf bytes.Buffer
	if err := service.ExportCurrent(context.Background(), &buf, "service_request", FormatCSV); err != nil {
		t.Fatalf("export returned error: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("output is not valid csv: %v", err)
	}
	if len(records) != 2501 {
		t.Fatalf("expected 2501 records, got %d", len(records))
	}
}

func TestParseFormat(t *testing.T) {
	if format, err := ParseFormat(""); err != nil || format != FormatCSV {
		t.Fatalf("empty format must default to csv, got %v %v", format, err)
	}
	if format, err := ParseFormat("XLSX"); err != nil || format != FormatXLSX {
		t.Fatalf("expected xlsx, got %v %v", format, err)
	}
	if _, err := ParseFormat("parquet"); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}

func TestExportXLSXWritesWorkbook(t *testing.T) {
	repo := &fakeHistoryRepo{byKey: map[string][]domain.HistoryRow{"SR-100": sampleHistory()}}
	service := NewService(repo)

	var buf bytes.Buffer
	if err := service.ExportKey(context.Background(), &buf, "SR-100", FormatXLSX); err != nil {
		t.Fatalf("export returned error: %v", err)
	}
	// XLSX files are zip archives.
	if buf.Len() == 0 || buf.Bytes()[0] != 'P' || buf.Bytes()[1] != 'K' {
		t.Fatalf("output does not look like an xlsx workbook")
	}
}
