package optimistic_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"svcdesk/internal/optimistic"
)

type item struct {
	ID   int64
	Name string
}

func (i item) EntityID() int64 { return i.ID }

func TestReduceSemantics(t *testing.T) {
	e := item{ID: 1, Name: "a"}
	e2 := item{ID: 1, Name: "a2"}
	other := item{ID: 2, Name: "b"}

	cases := []struct {
		name    string
		base    []item
		intents []optimistic.Intent[item]
		want    []item
	}{
		{"add to empty", nil, []optimistic.Intent[item]{optimistic.Add(e)}, []item{e}},
		{"replace same id", []item{e}, []optimistic.Intent[item]{optimistic.Replace(e2)}, []item{e2}},
		{"remove", []item{e}, []optimistic.Intent[item]{optimistic.Remove[item](1)}, []item{}},
		{"replace absent is no-op", []item{e}, []optimistic.Intent[item]{optimistic.Replace(other)}, []item{e}},
		{"remove absent is no-op", []item{e}, []optimistic.Intent[item]{optimistic.Remove[item](9)}, []item{e}},
		{"add does not dedup", []item{e}, []optimistic.Intent[item]{optimistic.Add(e)}, []item{e, e}},
		{"applied in order", []item{e}, []optimistic.Intent[item]{
			optimistic.Add(other),
			optimistic.Replace(item{ID: 2, Name: "b2"}),
			optimistic.Remove[item](1),
		}, []item{{ID: 2, Name: "b2"}}},
		{"replace after remove is no-op", []item{e}, []optimistic.Intent[item]{
			optimistic.Remove[item](1),
			optimistic.Replace(e2),
		}, []item{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, optimistic.Reduce(tc.base, tc.intents))
		})
	}
}

func TestReduceIsPure(t *testing.T) {
	base := []item{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}, {ID: 3, Name: "c"}}
	snapshot := append([]item(nil), base...)
	intents := []optimistic.Intent[item]{
		optimistic.Replace(item{ID: 1, Name: "x"}),
		optimistic.Remove[item](2),
		optimistic.Add(item{ID: -1, Name: "new"}),
	}

	first := optimistic.Reduce(base, intents)
	second := optimistic.Reduce(base, intents)

	assert.Equal(t, first, second)
	assert.Equal(t, snapshot, base, "base must not be modified")
	assert.Equal(t, []item{{ID: 1, Name: "x"}, {ID: 3, Name: "c"}, {ID: -1, Name: "new"}}, first)

	first[0].Name = "mutated"
	assert.Equal(t, "a", base[0].Name, "result must not alias base")
}
