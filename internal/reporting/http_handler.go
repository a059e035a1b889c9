package reporting

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/soundledger/royaltystream/internal/domain"
	"github.com/soundledger/royaltystream/internal/repository"

	"github.com/google/uuid"
)

// Handler exposes transaction queries as HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHTTPHandler wraps the service with reporting endpoints.
func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, hasID := trailingID(r.URL.Path, "/transactions")

	switch {
	case r.Method == http.MethodGet && hasID:
		h.handleGet(w, r, id)
	case r.Method == http.MethodGet:
		h.handleList(w, r)
	case r.Method == http.MethodDelete && hasID:
		h.handleDelete(w, r, id)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type listResponse struct {
	Transactions []domain.Transaction `json:"transactions"`
	TotalCount   int                  `json:"totalCount"`
	Limit        int                  `json:"limit"`
	Offset       int                  `json:"offset"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

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

	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)

	transactions, totalCount, err := h.service.List(r.Context(), filter, limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, listResponse{
		Transactions: transactions,
		TotalCount:   totalCount,
		Limit:        limit,
		Offset:       offset,
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	txn, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "transaction not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if err := h.service.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "transaction not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
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

func trailingID(path, prefix string) (uuid.UUID, bool) {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(rest)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
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
