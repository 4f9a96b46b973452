package history

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/opencivic/srhistory/internal/domain"
	"github.com/opencivic/srhistory/internal/repository"
)

// Handler serves the read contract over history rows: full history by
// business key, current-only listing, and the rejection audit log.
type Handler struct {
	historyRepo   repository.HistoryRepository
	rejectionRepo repository.RejectionRepository
}

// NewHTTPHandler wraps the repositories with GET endpoints.
func NewHTTPHandler(historyRepo repository.HistoryRepository, rejectionRepo repository.RejectionRepository) http.Handler {
	return &Handler{historyRepo: historyRepo, rejectionRepo: rejectionRepo}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch {
	case strings.HasSuffix(r.URL.Path, "/rejections"):
		h.handleRejections(w, r)
	case strings.HasSuffix(r.URL.Path, "/current"):
		h.handleCurrent(w, r)
	default:
		h.handleByKey(w, r)
	}
}

// historyRowPayload flattens a HistoryRow for JSON consumers; valid_to is
// null for the current row.
type historyRowPayload struct {
	ID          string         `json:"id"`
	BusinessKey string         `json:"businessKey"`
	EntityType  string         `json:"entityType"`
	Attributes  map[string]any `json:"attributes"`
	ValidFrom   time.Time      `json:"validFrom"`
	ValidTo     *time.Time     `json:"validTo"`
	Version     int64          `json:"version"`
	IsCurrent   bool           `json:"isCurrent"`
}

func toPayload(rows []domain.HistoryRow) []historyRowPayload {
	payload := make([]historyRowPayload, len(rows))
	for i, row := range rows {
		payload[i] = historyRowPayload{
			ID:          row.ID.String(),
			BusinessKey: row.BusinessKey,
			EntityType:  row.EntityType,
			Attributes:  row.Attributes,
			ValidFrom:   row.ValidFrom,
			ValidTo:     row.ValidTo,
			Version:     row.Version,
			IsCurrent:   row.IsCurrent(),
		}
	}
	return payload
}

func (h *Handler) handleByKey(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" {
		http.Error(w, "key is required", http.StatusBadRequest)
		return
	}

	rows, err := h.historyRepo.ListByKey(r.Context(), key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, toPayload(rows))
}

func (h *Handler) handleCurrent(w http.ResponseWriter, r *http.Request) {
	entityType := strings.TrimSpace(r.URL.Query().Get("entityType"))
	limit := queryInt(r, "limit", 200)
	offset := queryInt(r, "offset", 0)

	rows, err := h.historyRepo.ListCurrent(r.Context(), entityType, limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, toPayload(rows))
}

func (h *Handler) handleRejections(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.URL.Query().Get("key"))
	limit := queryInt(r, "limit", 200)
	offset := queryInt(r, "offset", 0)

	rejections, err := h.rejectionRepo.List(r.Context(), key, limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, rejections)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
