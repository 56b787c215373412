package domain

import "strings"

var statusAliases = map[string]Status{
	"pending":     StatusPending,
	"pendiente":   StatusPending,
	"inprogress":  StatusInProgress,
	"in_progress": StatusInProgress,
	"en proceso":  StatusInProgress,
	"resolved":    StatusResolved,
	"resuelta":    StatusResolved,
	"cancelled":   StatusCancelled,
	"canceled":    StatusCancelled,
	"cancelada":   StatusCancelled,
}

// ParseStatus normalizes canonical and localized status names.
func ParseStatus(s string) (Status, bool) {
	if Status(s).Valid() {
		return Status(s), true
	}
	st, ok := statusAliases[strings.ToLower(strings.TrimSpace(s))]
	return st, ok
}

// Valid reports whether s is one of the canonical status strings.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusResolved, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusCancelled
}
