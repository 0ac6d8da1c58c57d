package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/lin-1259/ai-xiutu/internal/domain"
	"github.com/lin-1259/ai-xiutu/internal/store"
)

// getPathUUID extracts a UUID from the URL path parameters.
// A missing or malformed value is reported as a validation error.
func getPathUUID(r *http.Request, paramName string) (uuid.UUID, error) {
	pathParam := chi.URLParam(r, paramName)
	if pathParam == "" {
		return uuid.Nil, fmt.Errorf("%w: %s is required", domain.ErrValidation, paramName)
	}

	id, err := uuid.Parse(pathParam)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s has invalid format", domain.ErrValidation, paramName)
	}
	return id, nil
}

// parseJobFilter reads the status and templateId query parameters. Status
// accepts a comma separated list.
func parseJobFilter(r *http.Request) (store.JobFilter, error) {
	var filter store.JobFilter
	q := r.URL.Query()
	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status, err := domain.ParseJobStatus(part)
			if err != nil {
				return store.JobFilter{}, err
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	filter.TemplateID = strings.TrimSpace(q.Get("templateId"))
	return filter, nil
}
