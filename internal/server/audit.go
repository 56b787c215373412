package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"svcdesk/internal/audit"
	"svcdesk/internal/domain"
	"svcdesk/internal/engine"
	"svcdesk/internal/engine/auth"
)

func registerAudit(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "Read the audit trail",
		Description: "Newest entries first. The trail is append-only; there is no write endpoint.",
		Tags:        []string{"audit"},
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Module        string `query:"module" example:"Solicitudes"`
		Action        string `query:"action" example:"Actualizar Estado"`
		ActorID       int64  `query:"actor_id"`
		AffectedTable string `query:"affected_table" example:"service_requests"`
		AffectedID    int64  `query:"affected_id"`
		Limit         int    `query:"limit" default:"50"`
		Cursor        string `query:"cursor"`
	}) (*bodyOutput[AuditPage], error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.Require(p, domain.CapabilityAdministrator); err != nil {
			return nil, handleError(err)
		}
		cursor, err := parseCursor(input.Cursor)
		if err != nil {
			return nil, err
		}
		limit := normalizeLimit(input.Limit)
		items, listErr := e.Audit.List(ctx, audit.Filter{
			Module:        input.Module,
			Action:        input.Action,
			ActorID:       optionalID(input.ActorID),
			AffectedTable: input.AffectedTable,
			AffectedID:    optionalID(input.AffectedID),
			Limit:         limit + 1,
			Cursor:        cursor,
		})
		if listErr != nil {
			return nil, handleError(listErr)
		}
		page := AuditPage{Items: nonNilSlice(items)}
		if len(items) > limit {
			page.Items = items[:limit]
			page.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		return respond(page), nil
	})
}
