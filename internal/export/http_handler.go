package export

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/soundledger/royaltystream/internal/repository"

	"github.com/google/uuid"
)

// Handler serves transaction exports as file downloads.
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
	h.handleDownload(w, r)
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	format, err := ParseFormat(query.Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	filter := repository.TransactionFilter{
		Artist:    strings.TrimSpace(query.Get("artist")),
		Title:     strings.TrimSpace(query.Get("title")),
		Service:   strings.TrimSpace(query.Get("service")),
		Territory: strings.TrimSpace(query.Get("territory")),
	}

	if raw := strings.TrimSpace(query.Get("uploadId")); raw != "" {
		uploadID, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid upload id: %v", err), http.StatusBadRequest)
			return
		}
		filter.UploadID = &uploadID
	}

	from, err := queryTime(query.Get("from"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid from date: %v", err), http.StatusBadRequest)
		return
	}
	filter.From = from

	to, err := queryTime(query.Get("to"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid to date: %v", err), http.StatusBadRequest)
		return
	}
	filter.To = to

	filename := fmt.Sprintf("transactions-%s.%s",
		time.Now().UTC().Format("20060102-150405"), format.Extension())
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	// Headers are committed once streaming starts; a mid-stream failure can
	// only truncate the download.
	if _, err := h.service.Export(r.Context(), w, filter, format); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func queryTime(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return &ts, nil
		}
	}
	return nil, fmt.Errorf("unrecognized date %q", raw)
}
