package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"svcdesk/internal/audit"
	"svcdesk/internal/domain"
	"svcdesk/internal/engine/auth"
	"svcdesk/internal/repo"
)

func (e Engine) appendAudit(ctx context.Context, tx *sql.Tx, actor auth.Actor, module, action, table string, id int64, description string, ch changes) error {
	entry := audit.Entry{
		ActorID:     auth.ActorIDPtr(actor),
		Module:      module,
		Action:      action,
		Ref:         &audit.Ref{Table: table, ID: id},
		Description: description,
	}
	if len(ch) > 0 {
		entry.Changes = ch
	}
	_, err := e.Audit.Append(ctx, tx, entry)
	return err
}

func (e Engine) CreateCategory(ctx context.Context, actor auth.Actor, in domain.CategoryInput) (domain.Category, error) {
	if err := auth.Require(actor, domain.CapabilityAdministrator); err != nil {
		return domain.Category{}, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.Category{}, invalidf("name is required")
	}
	now := e.timestamp()
	c := domain.Category{Name: name, Description: in.Description, CreatedAt: now, UpdatedAt: now}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		id, err := e.Repo.InsertCategory(ctx, tx, c)
		if err != nil {
			return uniqueAsInvalid(err, "category %q already exists", name)
		}
		c.ID = id
		return e.appendAudit(ctx, tx, actor, domain.ModuleCategories, domain.ActionCreate, "categories", id,
			fmt.Sprintf("Categoria %s creada", name), changes{"name": name})
	})
	return c, err
}

func (e Engine) UpdateCategory(ctx context.Context, actor auth.Actor, id int64, in domain.CategoryInput) (domain.Category, error) {
	if err := auth.Require(actor, domain.CapabilityAdministrator); err != nil {
		return domain.Category{}, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.Category{}, invalidf("name is required")
	}
	var c domain.Category
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		before, err := e.Repo.GetCategory(ctx, tx, id)
		if err != nil {
			return err
		}
		c = before
		c.Name = name
		c.Description = in.Description
		c.UpdatedAt = e.timestamp()
		if err := e.Repo.UpdateCategory(ctx, tx, c); err != nil {
			return uniqueAsInvalid(err, "category %q already exists", name)
		}
		ch := changes{}
		ch.track("name", before.Name, c.Name)
		ch.track("description", before.Description, c.Description)
		return e.appendAudit(ctx, tx, actor, domain.ModuleCategories, domain.ActionUpdate, "categories", id,
			fmt.Sprintf("Categoria %s actualizada", name), ch)
	})
	return c, err
}

func (e Engine) DeleteCategory(ctx context.Context, actor auth.Actor, id int64) error {
	if err := auth.Require(actor, domain.CapabilityAdministrator); err != nil {
		return err
	}
	return e.inTx(ctx, func(tx *sql.Tx) error {
		c, err := e.Repo.GetCategory(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := e.appendAudit(ctx, tx, actor, domain.ModuleCategories, domain.ActionDelete, "categories", id,
			fmt.Sprintf("Categoria %s eliminada", c.Name), nil); err != nil {
			return err
		}
		return e.Repo.DeleteCategory(ctx, tx, id)
	})
}

func validateSla(in domain.SlaLevelInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return invalidf("name is required")
	}
	if in.ResponseHours < 0 {
		return invalidf("response_hours must be >= 0")
	}
	if in.ResolutionHours <= 0 {
		return invalidf("resolution_hours must be > 0")
	}
	if in.ResponseHours > in.ResolutionHours {
		return invalidf("response_hours must not exceed resolution_hours")
	}
	return nil
}

func (e Engine) CreateSlaLevel(ctx context.Context, actor auth.Actor, in domain.SlaLevelInput) (domain.SlaLevel, error) {
	if err := auth.Require(actor, domain.CapabilityAdministrator); err != nil {
		return domain.SlaLevel{}, err
	}
	if err := validateSla(in); err != nil {
		return domain.SlaLevel{}, err
	}
	now := e.timestamp()
	s := domain.SlaLevel{
		Name:            strings.TrimSpace(in.Name),
		Description:     in.Description,
		ResponseHours:   in.ResponseHours,
		ResolutionHours: in.ResolutionHours,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		id, err := e.Repo.InsertSlaLevel(ctx, tx, s)
		if err != nil {
			return uniqueAsInvalid(err, "sla %q already exists", s.Name)
		}
		s.ID = id
		return e.appendAudit(ctx, tx, actor, domain.ModuleSLAs, domain.ActionCreate, "sla_levels", id,
			fmt.Sprintf("SLA %s creado", s.Name), changes{
				"name":             s.Name,
				"response_hours":   s.ResponseHours,
				"resolution_hours": s.ResolutionHours,
			})
	})
	return s, err
}

func (e Engine) UpdateSlaLevel(ctx context.Context, actor auth.Actor, id int64, in domain.SlaLevelInput) (domain.SlaLevel, error) {
	if err := auth.Require(actor, domain.CapabilityAdministrator); err != nil {
		return domain.SlaLevel{}, err
	}
	if err := validateSla(in); err != nil {
		return domain.SlaLevel{}, err
	}
	var s domain.SlaLevel
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		before, err := e.Repo.GetSlaLevel(ctx, tx, id)
		if err != nil {
			return err
		}
		s = before
		s.Name = strings.TrimSpace(in.Name)
		s.Description = in.Description
		s.ResponseHours = in.ResponseHours
		s.ResolutionHours = in.ResolutionHours
		s.UpdatedAt = e.timestamp()
		if err := e.Repo.UpdateSlaLevel(ctx, tx, s); err != nil {
			return uniqueAsInvalid(err, "sla %q already exists", s.Name)
		}
		ch := changes{}
		ch.track("name", before.Name, s.Name)
		ch.track("description", before.Description, s.Description)
		ch.track("response_hours", before.ResponseHours, s.ResponseHours)
		ch.track("resolution_hours", before.ResolutionHours, s.ResolutionHours)
		return e.appendAudit(ctx, tx, actor, domain.ModuleSLAs, domain.ActionUpdate, "sla_levels", id,
			fmt.Sprintf("SLA %s actualizado", s.Name), ch)
	})
	return s, err
}

// DeleteSlaLevel removes an SLA level. Requests keep their SLA snapshot.
func (e Engine) DeleteSlaLevel(ctx context.Context, actor auth.Actor, id int64) error {
	if err := auth.Require(actor, domain.CapabilityAdministrator); err != nil {
		return err
	}
	return e.inTx(ctx, func(tx *sql.Tx) error {
		s, err := e.Repo.GetSlaLevel(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := e.appendAudit(ctx, tx, actor, domain.ModuleSLAs, domain.ActionDelete, "sla_levels", id,
			fmt.Sprintf("SLA %s eliminado", s.Name), nil); err != nil {
			return err
		}
		return e.Repo.DeleteSlaLevel(ctx, tx, id)
	})
}

func (e Engine) checkServiceRefs(ctx context.Context, tx *sql.Tx, in domain.ServiceInput) error {
	if in.CategoryID != nil {
		if _, err := e.Repo.GetCategory(ctx, tx, *in.CategoryID); err != nil {
			return notFoundAsInvalid(err, "category %d not found", *in.CategoryID)
		}
	}
	if in.SlaID != nil {
		if _, err := e.Repo.GetSlaLevel(ctx, tx, *in.SlaID); err != nil {
			return notFoundAsInvalid(err, "sla %d not found", *in.SlaID)
		}
	}
	return nil
}

func (e Engine) CreateService(ctx context.Context, actor auth.Actor, in domain.ServiceInput) (domain.Service, error) {
	if err := auth.Require(actor, domain.CapabilityAdministrator); err != nil {
		return domain.Service{}, err
	}
	if strings.TrimSpace(in.Name) == "" {
		return domain.Service{}, invalidf("name is required")
	}
	now := e.timestamp()
	s := domain.Service{
		CategoryID:  in.CategoryID,
		SlaID:       in.SlaID,
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Active:      in.Active == nil || *in.Active,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.checkServiceRefs(ctx, tx, in); err != nil {
			return err
		}
		id, err := e.Repo.InsertService(ctx, tx, s)
		if err != nil {
			return err
		}
		s.ID = id
		return e.appendAudit(ctx, tx, actor, domain.ModuleServices, domain.ActionCreate, "services", id,
			fmt.Sprintf("Servicio %s creado", s.Name), changes{
				"name":        s.Name,
				"category_id": int64Value(s.CategoryID),
				"sla_id":      int64Value(s.SlaID),
				"active":      s.Active,
			})
	})
	return s, err
}

// UpdateService replaces a service definition. Requests already submitted
// keep the snapshot taken at submission.
func (e Engine) UpdateService(ctx context.Context, actor auth.Actor, id int64, in domain.ServiceInput) (domain.Service, error) {
	if err := auth.Require(actor, domain.CapabilityAdministrator); err != nil {
		return domain.Service{}, err
	}
	if strings.TrimSpace(in.Name) == "" {
		return domain.Service{}, invalidf("name is required")
	}
	var s domain.Service
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		before, err := e.Repo.GetService(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := e.checkServiceRefs(ctx, tx, in); err != nil {
			return err
		}
		s = before
		s.CategoryID = in.CategoryID
		s.SlaID = in.SlaID
		s.Name = strings.TrimSpace(in.Name)
		s.Description = in.Description
		if in.Active != nil {
			s.Active = *in.Active
		}
		s.UpdatedAt = e.timestamp()
		if err := e.Repo.UpdateService(ctx, tx, s); err != nil {
			return err
		}
		ch := changes{}
		ch.track("name", before.Name, s.Name)
		ch.track("description", before.Description, s.Description)
		ch.track("category_id", int64Value(before.CategoryID), int64Value(s.CategoryID))
		ch.track("sla_id", int64Value(before.SlaID), int64Value(s.SlaID))
		ch.track("active", before.Active, s.Active)
		return e.appendAudit(ctx, tx, actor, domain.ModuleServices, domain.ActionUpdate, "services", id,
			fmt.Sprintf("Servicio %s actualizado", s.Name), ch)
	})
	return s, err
}

// DeleteService removes a service that has never received a request.
func (e Engine) DeleteService(ctx context.Context, actor auth.Actor, id int64) error {
	if err := auth.Require(actor, domain.CapabilityAdministrator); err != nil {
		return err
	}
	return e.inTx(ctx, func(tx *sql.Tx) error {
		s, err := e.Repo.GetService(ctx, tx, id)
		if err != nil {
			return err
		}
		n, err := e.Repo.CountRequestsForService(ctx, tx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("service %d has %d requests; deactivate it instead: %w", id, n, repo.ErrConflict)
		}
		if err := e.appendAudit(ctx, tx, actor, domain.ModuleServices, domain.ActionDelete, "services", id,
			fmt.Sprintf("Servicio %s eliminado", s.Name), nil); err != nil {
			return err
		}
		return e.Repo.DeleteService(ctx, tx, id)
	})
}

var fieldTypes = map[string]bool{"text": true, "textarea": true, "number": true, "date": true, "select": true}

func validateField(in domain.TemplateFieldInput) error {
	if strings.TrimSpace(in.Label) == "" {
		return invalidf("label is required")
	}
	if in.FieldType == "" {
		return invalidf("field_type is required")
	}
	if !fieldTypes[in.FieldType] {
		return invalidf("invalid field_type %s", in.FieldType)
	}
	if in.FieldType == "select" && strings.TrimSpace(in.Options) == "" {
		return invalidf("options required for select fields")
	}
	return nil
}

func (e Engine) AddTemplateField(ctx context.Context, actor auth.Actor, serviceID int64, in domain.TemplateFieldInput) (domain.TemplateField, error) {
	if err := auth.Require(actor, domain.CapabilityAdministrator); err != nil {
		return domain.TemplateField{}, err
	}
	if err := validateField(in); err != nil {
		return domain.TemplateField{}, err
	}
	f := domain.TemplateField{
		ServiceID: serviceID,
		Label:     strings.TrimSpace(in.Label),
		FieldType: in.FieldType,
		Options:   in.Options,
		Required:  in.Required,
		Position:  in.Position,
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.Repo.GetService(ctx, tx, serviceID); err != nil {
			return err
		}
		existing, err := e.Repo.ListTemplateFields(ctx, tx, serviceID)
		if err != nil {
			return err
		}
		for _, other := range existing {
			if strings.EqualFold(other.Label, f.Label) {
				return invalidf("field %q already exists on service %d", f.Label, serviceID)
			}
		}
		id, err := e.Repo.InsertTemplateField(ctx, tx, f)
		if err != nil {
			return err
		}
		f.ID = id
		return e.appendAudit(ctx, tx, actor, domain.ModuleTemplates, domain.ActionCreate, "template_fields", id,
			fmt.Sprintf("Campo %s agregado al servicio %d", f.Label, serviceID), changes{
				"service_id": serviceID,
				"label":      f.Label,
				"field_type": f.FieldType,
				"required":   f.Required,
			})
	})
	return f, err
}

func (e Engine) UpdateTemplateField(ctx context.Context, actor auth.Actor, serviceID, id int64, in domain.TemplateFieldInput) (domain.TemplateField, error) {
	if err := auth.Require(actor, domain.CapabilityAdministrator); err != nil {
		return domain.TemplateField{}, err
	}
	if err := validateField(in); err != nil {
		return domain.TemplateField{}, err
	}
	var f domain.TemplateField
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		before, err := e.Repo.GetTemplateField(ctx, tx, serviceID, id)
		if err != nil {
			return err
		}
		f = before
		f.Label = strings.TrimSpace(in.Label)
		f.FieldType = in.FieldType
		f.Options = in.Options
		f.Required = in.Required
		f.Position = in.Position
		if err := e.Repo.UpdateTemplateField(ctx, tx, f); err != nil {
			return err
		}
		ch := changes{}
		ch.track("label", before.Label, f.Label)
		ch.track("field_type", before.FieldType, f.FieldType)
		ch.track("options", before.Options, f.Options)
		ch.track("required", before.Required, f.Required)
		ch.track("position", before.Position, f.Position)
		return e.appendAudit(ctx, tx, actor, domain.ModuleTemplates, domain.ActionUpdate, "template_fields", id,
			fmt.Sprintf("Campo %s actualizado", f.Label), ch)
	})
	return f, err
}

func (e Engine) DeleteTemplateField(ctx context.Context, actor auth.Actor, serviceID, id int64) error {
	if err := auth.Require(actor, domain.CapabilityAdministrator); err != nil {
		return err
	}
	return e.inTx(ctx, func(tx *sql.Tx) error {
		f, err := e.Repo.GetTemplateField(ctx, tx, serviceID, id)
		if err != nil {
			return err
		}
		if err := e.appendAudit(ctx, tx, actor, domain.ModuleTemplates, domain.ActionDelete, "template_fields", id,
			fmt.Sprintf("Campo %s eliminado", f.Label), nil); err != nil {
			return err
		}
		return e.Repo.DeleteTemplateField(ctx, tx, serviceID, id)
	})
}

func uniqueAsInvalid(err error, format string, args ...any) error {
	if repo.IsUniqueViolation(err) {
		return invalidf(format, args...)
	}
	return err
}

func notFoundAsInvalid(err error, format string, args ...any) error {
	if err == repo.ErrNotFound {
		return invalidf(format, args...)
	}
	return err
}
