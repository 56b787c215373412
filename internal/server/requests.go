package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"svcdesk/internal/domain"
	"svcdesk/internal/engine"
	"svcdesk/internal/repo"
)

func registerRequests(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-requests",
		Method:      http.MethodGet,
		Path:        "/requests",
		Summary:     "List service requests",
		Description: "Administrators see every request; everyone else only their own.",
		Tags:        []string{"requests"},
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Status      string `query:"status" doc:"Canonical or localized status name"`
		ServiceID   int64  `query:"service_id"`
		RequesterID int64  `query:"requester_id"`
		Limit       int    `query:"limit" default:"50"`
		Cursor      string `query:"cursor"`
	}) (*bodyOutput[RequestPage], error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f := repo.RequestFilters{
			ServiceID:   optionalID(input.ServiceID),
			RequesterID: optionalID(input.RequesterID),
		}
		if input.Status != "" {
			st, ok := domain.ParseStatus(input.Status)
			if !ok {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown status", map[string]any{"status": input.Status})
			}
			f.Status = st
		}
		cursor, err := parseCursor(input.Cursor)
		if err != nil {
			return nil, err
		}
		f.Cursor = cursor
		limit := normalizeLimit(input.Limit)
		f.Limit = limit + 1
		items, listErr := e.ListRequests(ctx, p, f)
		if listErr != nil {
			return nil, handleError(listErr)
		}
		page := RequestPage{Items: nonNilSlice(items)}
		if len(items) > limit {
			page.Items = items[:limit]
			page.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		return respond(page), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-request",
		Method:      http.MethodGet,
		Path:        "/requests/{id}",
		Summary:     "Get service request",
		Tags:        []string{"requests"},
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*bodyOutput[domain.ServiceRequest], error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sr, err := e.GetRequest(ctx, p, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(sr), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-request",
		Method:        http.MethodPost,
		Path:          "/requests",
		Summary:       "Submit service request",
		Tags:          []string{"requests"},
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body domain.RequestInput
	}) (*bodyOutput[domain.ServiceRequest], error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sr, err := e.CreateRequest(ctx, p, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(sr), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-request",
		Method:      http.MethodPost,
		Path:        "/requests/{id}/transition",
		Summary:     "Change request status",
		Description: "Administrators only. Resolved and Cancelled are terminal.",
		Tags:        []string{"requests"},
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id" minimum:"1"`
		Body TransitionRequest
	}) (*bodyOutput[domain.ServiceRequest], error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sr, err := e.TransitionRequest(ctx, input.ID, input.Body.Status, p)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(sr), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-request",
		Method:        http.MethodDelete,
		Path:          "/requests/{id}",
		Summary:       "Delete service request",
		Tags:          []string{"requests"},
		DefaultStatus: http.StatusNoContent,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteRequest(ctx, input.ID, p); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func parseCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil || id <= 0 {
		return 0, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": cursor})
	}
	return id, nil
}
