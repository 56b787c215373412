package domain

// Status is the lifecycle state of a service request.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusInProgress Status = "InProgress"
	StatusResolved   Status = "Resolved"
	StatusCancelled  Status = "Cancelled"
)

// Capability names checked by the engine.
const (
	CapabilityAdministrator = "Administrator"
)

type Category struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

func (c Category) EntityID() int64 { return c.ID }

type Service struct {
	ID          int64  `json:"id"`
	CategoryID  *int64 `json:"category_id,omitempty"`
	SlaID       *int64 `json:"sla_id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Active      bool   `json:"active"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

func (s Service) EntityID() int64 { return s.ID }

type SlaLevel struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	ResponseHours   int    `json:"response_hours"`
	ResolutionHours int    `json:"resolution_hours"`
	CreatedAt       string `json:"created_at" format:"date-time"`
	UpdatedAt       string `json:"updated_at" format:"date-time"`
}

func (s SlaLevel) EntityID() int64 { return s.ID }

type TemplateField struct {
	ID        int64  `json:"id"`
	ServiceID int64  `json:"service_id"`
	Label     string `json:"label"`
	FieldType string `json:"field_type" enum:"text,textarea,number,date,select"`
	Options   string `json:"options,omitempty"`
	Required  bool   `json:"required"`
	Position  int    `json:"position"`
}

func (f TemplateField) EntityID() int64 { return f.ID }

type User struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

func (u User) EntityID() int64 { return u.ID }

// ServiceSnapshot freezes the service definition a request was submitted against.
type ServiceSnapshot struct {
	ServiceID    int64           `json:"service_id"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	CategoryName string          `json:"category_name,omitempty"`
	Fields       []TemplateField `json:"fields,omitempty"`
}

// SlaSnapshot freezes the SLA terms a request was submitted under.
type SlaSnapshot struct {
	SlaID           int64  `json:"sla_id"`
	Name            string `json:"name"`
	ResponseHours   int    `json:"response_hours"`
	ResolutionHours int    `json:"resolution_hours"`
}

type ServiceRequest struct {
	ID              int64             `json:"id"`
	Code            string            `json:"code"`
	ServiceID       int64             `json:"service_id"`
	SlaID           *int64            `json:"sla_id,omitempty"`
	RequesterID     int64             `json:"requester_id"`
	Status          Status            `json:"status" enum:"Pending,InProgress,Resolved,Cancelled"`
	Description     string            `json:"description,omitempty"`
	Answers         map[string]string `json:"answers,omitempty"`
	ServiceSnapshot ServiceSnapshot   `json:"service_snapshot"`
	SlaSnapshot     *SlaSnapshot      `json:"sla_snapshot,omitempty"`
	SubmittedAt     string            `json:"submitted_at" format:"date-time"`
	UpdatedAt       string            `json:"updated_at" format:"date-time"`
}

func (r ServiceRequest) EntityID() int64 { return r.ID }

// AuditLogEntry is one immutable row of the audit trail.
type AuditLogEntry struct {
	ID            int64   `json:"id"`
	ActorID       *int64  `json:"actor_id"`
	Module        string  `json:"module"`
	Action        string  `json:"action"`
	Description   *string `json:"description"`
	AffectedTable *string `json:"affected_table"`
	AffectedID    *int64  `json:"affected_id"`
	Changes       *string `json:"changes"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    int64  `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Audit vocabulary. Module names follow the screens of the back office.
const (
	ModuleRequests   = "Solicitudes"
	ModuleCategories = "Categorias"
	ModuleServices   = "Servicios"
	ModuleSLAs       = "SLAs"
	ModuleTemplates  = "Plantillas"
	ModuleUsers      = "Usuarios"

	ActionCreate       = "Crear"
	ActionUpdate       = "Actualizar"
	ActionDelete       = "Eliminar"
	ActionUpdateStatus = "Actualizar Estado"
)
