package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"svcdesk/internal/domain"
	"svcdesk/internal/engine/auth"
	"svcdesk/internal/repo"
)

// InvalidTransitionError reports a status change the lifecycle does not allow.
type InvalidTransitionError struct {
	From domain.Status
	To   string
}

func (e InvalidTransitionError) Error() string {
	if e.From.Terminal() {
		return fmt.Sprintf("invalid request status transition %s -> %s: %s is terminal", e.From, e.To, e.From)
	}
	return fmt.Sprintf("invalid request status transition %s -> %s", e.From, e.To)
}

// ensureRequestTransition allows any move between distinct statuses while the
// request is open. Resolved and Cancelled are final.
func ensureRequestTransition(from, to domain.Status) error {
	if !to.Valid() || from == to {
		return InvalidTransitionError{From: from, To: string(to)}
	}
	switch from {
	case domain.StatusPending:
		if to == domain.StatusInProgress || to == domain.StatusResolved || to == domain.StatusCancelled {
			return nil
		}
	case domain.StatusInProgress:
		if to == domain.StatusPending || to == domain.StatusResolved || to == domain.StatusCancelled {
			return nil
		}
	}
	return InvalidTransitionError{From: from, To: string(to)}
}

// CreateRequest submits a request for requester. The service and SLA
// definitions are copied into the request and never refreshed afterwards.
func (e Engine) CreateRequest(ctx context.Context, requester auth.Actor, in domain.RequestInput) (sr domain.ServiceRequest, err error) {
	ctx, span := startSpan(ctx, "engine.CreateRequest")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.Int64("service.id", in.ServiceID))

	if requester == nil || requester.ActorID() == 0 {
		return domain.ServiceRequest{}, auth.AuthorizationError{Capability: "Requester"}
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		svc, err := e.Repo.GetService(ctx, tx, in.ServiceID)
		if err != nil {
			return notFoundAsInvalid(err, "service %d not found", in.ServiceID)
		}
		if !svc.Active {
			return invalidf("service %s is not accepting requests", svc.Name)
		}
		fields, err := e.Repo.ListTemplateFields(ctx, tx, svc.ID)
		if err != nil {
			return err
		}
		answers, err := checkAnswers(fields, in.Answers)
		if err != nil {
			return err
		}
		snapshot := domain.ServiceSnapshot{
			ServiceID:   svc.ID,
			Name:        svc.Name,
			Description: svc.Description,
			Fields:      fields,
		}
		if svc.CategoryID != nil {
			cat, err := e.Repo.GetCategory(ctx, tx, *svc.CategoryID)
			if err != nil && !errors.Is(err, repo.ErrNotFound) {
				return err
			}
			snapshot.CategoryName = cat.Name
		}
		now := e.now()
		sr = domain.ServiceRequest{
			ServiceID:       svc.ID,
			SlaID:           svc.SlaID,
			RequesterID:     requester.ActorID(),
			Status:          domain.StatusPending,
			Description:     strings.TrimSpace(in.Description),
			Answers:         answers,
			ServiceSnapshot: snapshot,
			SubmittedAt:     now.UTC().Format(time.RFC3339),
			UpdatedAt:       now.UTC().Format(time.RFC3339),
		}
		if svc.SlaID != nil {
			sla, err := e.Repo.GetSlaLevel(ctx, tx, *svc.SlaID)
			if err != nil && !errors.Is(err, repo.ErrNotFound) {
				return err
			}
			if err == nil {
				sr.SlaSnapshot = &domain.SlaSnapshot{
					SlaID:           sla.ID,
					Name:            sla.Name,
					ResponseHours:   sla.ResponseHours,
					ResolutionHours: sla.ResolutionHours,
				}
			}
		}
		// Codes are random; retry the rare collision on the unique index.
		for attempt := 0; ; attempt++ {
			sr.Code = e.requestCode(now)
			id, err := e.Repo.InsertRequest(ctx, tx, sr)
			if err == nil {
				sr.ID = id
				break
			}
			if !repo.IsUniqueViolation(err) || attempt == 2 {
				return err
			}
		}
		return e.appendAudit(ctx, tx, requester, domain.ModuleRequests, domain.ActionCreate, "service_requests", sr.ID,
			fmt.Sprintf("Solicitud %s creada para el servicio %s", sr.Code, svc.Name), changes{
				"code":       sr.Code,
				"service_id": sr.ServiceID,
				"status":     string(sr.Status),
			})
	})
	if err != nil {
		return domain.ServiceRequest{}, err
	}
	span.SetAttributes(attribute.Int64("request.id", sr.ID))
	e.logger().Info("request created", "request_id", sr.ID, "code", sr.Code, "requester_id", sr.RequesterID)
	return sr, nil
}

func (e Engine) requestCode(now time.Time) string {
	prefix := "SOL"
	if e.Config != nil && e.Config.Requests.CodePrefix != "" {
		prefix = e.Config.Requests.CodePrefix
	}
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("%s-%s-%s", prefix, now.UTC().Format("20060102"), suffix)
}

// checkAnswers matches answers to template fields by label.
func checkAnswers(fields []domain.TemplateField, answers map[string]string) (map[string]string, error) {
	byLabel := make(map[string]domain.TemplateField, len(fields))
	for _, f := range fields {
		byLabel[strings.ToLower(f.Label)] = f
	}
	out := make(map[string]string, len(answers))
	for label, value := range answers {
		f, ok := byLabel[strings.ToLower(strings.TrimSpace(label))]
		if !ok {
			return nil, invalidf("unknown field %q", label)
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		switch f.FieldType {
		case "number":
			if _, err := strconv.ParseFloat(value, 64); err != nil {
				return nil, invalidf("field %q must be a number", f.Label)
			}
		case "date":
			if _, err := time.Parse(time.DateOnly, value); err != nil {
				return nil, invalidf("field %q must be a date (YYYY-MM-DD)", f.Label)
			}
		case "select":
			if !optionAllowed(f.Options, value) {
				return nil, invalidf("field %q does not accept %q", f.Label, value)
			}
		}
		out[f.Label] = value
	}
	for _, f := range fields {
		if f.Required && out[f.Label] == "" {
			return nil, invalidf("field %q is required", f.Label)
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func optionAllowed(options, value string) bool {
	for _, opt := range strings.Split(options, ",") {
		if strings.TrimSpace(opt) == value {
			return true
		}
	}
	return false
}

// GetRequest returns a request. Requesters only see their own.
func (e Engine) GetRequest(ctx context.Context, actor auth.Actor, id int64) (domain.ServiceRequest, error) {
	sr, err := e.Repo.GetRequest(ctx, nil, id)
	if err != nil {
		return sr, err
	}
	if actor == nil || (!actor.HasCapability(domain.CapabilityAdministrator) && actor.ActorID() != sr.RequesterID) {
		return domain.ServiceRequest{}, auth.AuthorizationError{Capability: domain.CapabilityAdministrator}
	}
	return sr, nil
}

// ListRequests lists requests visible to actor.
func (e Engine) ListRequests(ctx context.Context, actor auth.Actor, f repo.RequestFilters) ([]domain.ServiceRequest, error) {
	if actor == nil {
		return nil, auth.AuthorizationError{Capability: "Requester"}
	}
	if !actor.HasCapability(domain.CapabilityAdministrator) {
		id := actor.ActorID()
		f.RequesterID = &id
	}
	return e.Repo.ListRequests(ctx, f)
}

// TransitionRequest moves a request to target. Only administrators may change
// status. The status write is guarded by the status read in the same
// transaction, and the audit entry commits or rolls back with it.
func (e Engine) TransitionRequest(ctx context.Context, id int64, target string, actor auth.Actor) (sr domain.ServiceRequest, err error) {
	ctx, span := startSpan(ctx, "engine.TransitionRequest")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.Int64("request.id", id), attribute.String("status.target", target))

	if err := auth.Require(actor, domain.CapabilityAdministrator); err != nil {
		return domain.ServiceRequest{}, err
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		current, err := e.Repo.GetRequest(ctx, tx, id)
		if err != nil {
			return err
		}
		to, ok := domain.ParseStatus(target)
		if !ok {
			return InvalidTransitionError{From: current.Status, To: target}
		}
		if err := ensureRequestTransition(current.Status, to); err != nil {
			return err
		}
		updatedAt := e.timestamp()
		if err := e.Repo.UpdateRequestStatus(ctx, tx, id, current.Status, to, updatedAt); err != nil {
			if errors.Is(err, repo.ErrConflict) {
				return fmt.Errorf("request %d changed status concurrently: %w", id, err)
			}
			return err
		}
		if err := e.appendAudit(ctx, tx, actor, domain.ModuleRequests, domain.ActionUpdateStatus, "service_requests", id,
			fmt.Sprintf("Solicitud %s: %s -> %s", current.Code, current.Status, to), changes{
				"from": string(current.Status),
				"to":   string(to),
			}); err != nil {
			return err
		}
		sr = current
		sr.Status = to
		sr.UpdatedAt = updatedAt
		return nil
	})
	if err != nil {
		return domain.ServiceRequest{}, err
	}
	e.logger().Info("request status changed", "request_id", id, "status", sr.Status, "actor_id", actor.ActorID())
	return sr, nil
}

// DeleteRequest hard-deletes a request outside the lifecycle. The audit entry
// is written first so it references a row that still exists.
func (e Engine) DeleteRequest(ctx context.Context, id int64, actor auth.Actor) (err error) {
	ctx, span := startSpan(ctx, "engine.DeleteRequest")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.Int64("request.id", id))

	if err := auth.Require(actor, domain.CapabilityAdministrator); err != nil {
		return err
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		sr, err := e.Repo.GetRequest(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := e.appendAudit(ctx, tx, actor, domain.ModuleRequests, domain.ActionDelete, "service_requests", id,
			fmt.Sprintf("Solicitud %s eliminada", sr.Code), changes{
				"code":   sr.Code,
				"status": string(sr.Status),
			}); err != nil {
			return err
		}
		return e.Repo.DeleteRequest(ctx, tx, id)
	})
	if err != nil {
		return err
	}
	e.logger().Info("request deleted", "request_id", id, "actor_id", actor.ActorID())
	return nil
}
