package svcdesksdk

// API models (partial).

type Principal struct {
	UserID       int64    `json:"user_id"`
	Name         string   `json:"name,omitempty"`
	Role         string   `json:"role"`
	Capabilities []string `json:"capabilities"`
	Source       string   `json:"source,omitempty"`
}

type Category struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (c Category) EntityID() int64 { return c.ID }

type CategoryInput struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type Service struct {
	ID          int64  `json:"id"`
	CategoryID  *int64 `json:"category_id,omitempty"`
	SlaID       *int64 `json:"sla_id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Active      bool   `json:"active"`
}

func (s Service) EntityID() int64 { return s.ID }

type ServiceInput struct {
	CategoryID  *int64 `json:"category_id,omitempty"`
	SlaID       *int64 `json:"sla_id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Active      *bool  `json:"active,omitempty"`
}

type SlaLevel struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	ResponseHours   int    `json:"response_hours"`
	ResolutionHours int    `json:"resolution_hours"`
}

func (s SlaLevel) EntityID() int64 { return s.ID }

type SlaLevelInput struct {
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	ResponseHours   int    `json:"response_hours"`
	ResolutionHours int    `json:"resolution_hours"`
}

type User struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Active bool   `json:"active"`
}

func (u User) EntityID() int64 { return u.ID }

type UserInput struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   string `json:"role,omitempty"`
	Active *bool  `json:"active,omitempty"`
}

type ServiceRequest struct {
	ID          int64             `json:"id"`
	Code        string            `json:"code"`
	ServiceID   int64             `json:"service_id"`
	RequesterID int64             `json:"requester_id"`
	Status      string            `json:"status"`
	Description string            `json:"description,omitempty"`
	Answers     map[string]string `json:"answers,omitempty"`
	SubmittedAt string            `json:"submitted_at"`
	UpdatedAt   string            `json:"updated_at"`
}

func (r ServiceRequest) EntityID() int64 { return r.ID }

type RequestInput struct {
	ServiceID   int64             `json:"service_id"`
	Description string            `json:"description,omitempty"`
	Answers     map[string]string `json:"answers,omitempty"`
}

type RequestPage struct {
	Items      []ServiceRequest `json:"items"`
	NextCursor string           `json:"next_cursor"`
}

type AuditEntry struct {
	ID            int64   `json:"id"`
	ActorID       *int64  `json:"actor_id"`
	Module        string  `json:"module"`
	Action        string  `json:"action"`
	Description   *string `json:"description"`
	AffectedTable *string `json:"affected_table"`
	AffectedID    *int64  `json:"affected_id"`
	Changes       *string `json:"changes"`
	CreatedAt     string  `json:"created_at"`
}

type AuditPage struct {
	Items      []AuditEntry `json:"items"`
	NextCursor string       `json:"next_cursor"`
}
