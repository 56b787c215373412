// Package optimistic keeps a client-side copy of a remote collection and
// projects not-yet-confirmed writes onto it.
//
// The observed view is always Reduce(base, pending): base is the last list
// fetched from the remote and pending holds the intents of mutations folded
// since. A refresh replaces base wholesale and drops intents, which is also
// how a failed mutation is rolled back.
package optimistic

// Entity is anything with a stable integer identity.
type Entity interface {
	EntityID() int64
}

type IntentKind int

const (
	IntentAdd IntentKind = iota + 1
	IntentReplace
	IntentRemove
)

func (k IntentKind) String() string {
	switch k {
	case IntentAdd:
		return "add"
	case IntentReplace:
		return "replace"
	case IntentRemove:
		return "remove"
	}
	return "unknown"
}

// Intent is one projected mutation. ID is only used by IntentRemove.
type Intent[T Entity] struct {
	Kind   IntentKind
	Entity T
	ID     int64
}

func Add[T Entity](e T) Intent[T]     { return Intent[T]{Kind: IntentAdd, Entity: e} }
func Replace[T Entity](e T) Intent[T] { return Intent[T]{Kind: IntentReplace, Entity: e} }
func Remove[T Entity](id int64) Intent[T] {
	return Intent[T]{Kind: IntentRemove, ID: id}
}

// Reduce applies intents to base in order and returns a new slice. base is
// never modified.
//
// Add appends without deduplicating. Replace swaps every element with the
// same id and is a no-op when none matches. Remove drops elements with the id.
func Reduce[T Entity](base []T, intents []Intent[T]) []T {
	out := make([]T, len(base), len(base)+len(intents))
	copy(out, base)
	for _, in := range intents {
		switch in.Kind {
		case IntentAdd:
			out = append(out, in.Entity)
		case IntentReplace:
			id := in.Entity.EntityID()
			for i := range out {
				if out[i].EntityID() == id {
					out[i] = in.Entity
				}
			}
		case IntentRemove:
			kept := out[:0:0]
			for _, e := range out {
				if e.EntityID() != in.ID {
					kept = append(kept, e)
				}
			}
			out = kept
		}
	}
	return out
}
