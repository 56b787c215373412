package domain

// Mutation inputs shared by the engine, the HTTP API and the SDK.

type CategoryInput struct {
	Name        string `json:"name" minLength:"1"`
	Description string `json:"description,omitempty"`
}

type SlaLevelInput struct {
	Name            string `json:"name" minLength:"1"`
	Description     string `json:"description,omitempty"`
	ResponseHours   int    `json:"response_hours" minimum:"0"`
	ResolutionHours int    `json:"resolution_hours" minimum:"1"`
}

type ServiceInput struct {
	CategoryID  *int64 `json:"category_id,omitempty"`
	SlaID       *int64 `json:"sla_id,omitempty"`
	Name        string `json:"name" minLength:"1"`
	Description string `json:"description,omitempty"`
	Active      *bool  `json:"active,omitempty"`
}

type TemplateFieldInput struct {
	Label     string `json:"label" minLength:"1"`
	FieldType string `json:"field_type" enum:"text,textarea,number,date,select"`
	Options   string `json:"options,omitempty"`
	Required  bool   `json:"required,omitempty"`
	Position  int    `json:"position,omitempty"`
}

type UserInput struct {
	Name   string `json:"name" minLength:"1"`
	Email  string `json:"email" format:"email"`
	Role   string `json:"role,omitempty"`
	Active *bool  `json:"active,omitempty"`
}

// RequestInput submits a service request. Answers are keyed by template field label.
type RequestInput struct {
	ServiceID   int64             `json:"service_id"`
	Description string            `json:"description,omitempty"`
	Answers     map[string]string `json:"answers,omitempty"`
}
