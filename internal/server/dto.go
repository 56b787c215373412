package server

import (
	"svcdesk/internal/domain"
)

// Request payloads

type TransitionRequest struct {
	Status string `json:"status" minLength:"1" example:"InProgress" doc:"Target status; canonical or localized name"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

// Response payloads

type RequestPage struct {
	Items      []domain.ServiceRequest `json:"items"`
	NextCursor string                  `json:"next_cursor,omitempty"`
}

type AuditPage struct {
	Items      []domain.AuditLogEntry `json:"items"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}

// APIKeyResponse carries the raw key. It is only returned once, at creation.
type APIKeyResponse struct {
	ID        string `json:"id"`
	UserID    int64  `json:"user_id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKeySummary struct {
	ID        string `json:"id"`
	UserID    int64  `json:"user_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

func apiKeySummaries(keys []domain.APIKey) []APIKeySummary {
	out := make([]APIKeySummary, 0, len(keys))
	for _, k := range keys {
		out = append(out, APIKeySummary{ID: k.ID, UserID: k.UserID, Name: k.Name, CreatedAt: k.CreatedAt})
	}
	return out
}
