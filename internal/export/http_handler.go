package export

import (
	"fmt"
	"net/http"
	"strings"
)

type Handler struct {
	service *Service
}

func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	format, err := ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	key := strings.TrimSpace(r.URL.Query().Get("key"))
	entityType := strings.TrimSpace(r.URL.Query().Get("entityType"))
	if key == "" && entityType == "" {
		http.Error(w, "key or entityType is required", http.StatusBadRequest)
		return
	}

	name := key
	if name == "" {
		name = entityType
	}
	setDownloadHeaders(w, name, format)

	if key != "" {
		err = h.service.ExportKey(r.Context(), w, key, format)
	} else {
		err = h.service.ExportCurrent(r.Context(), w, entityType, format)
	}
	if err != nil {
		// Headers may already be out; log-worthy but not recoverable here.
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func setDownloadHeaders(w http.ResponseWriter, name string, format Format) {
	fileName := fmt.Sprintf("%s-history.%s", sanitizeFileName(name), format)
	if format == FormatXLSX {
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	} else {
		w.Header().Set("Content-Type", "text/csv")
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
}

func sanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	replacer := strings.NewReplacer("/", "_", "\\", "_", " ", "_")
	name = replacer.Replace(name)
	if name == "" {
		return "export"
	}
	return name
}
