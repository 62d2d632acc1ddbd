package entity

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clyso/crr/pkg/dom"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StatePending, StateInProgress, true},
		{StateInProgress, StateCompleted, true},
		{StateInProgress, StatePending, true},
		{StateInProgress, StateFailed, true},
		{StateFailed, StatePending, true},
		{StateCompleted, StatePending, false},
		{StateCompleted, StateInProgress, false},
		{StateCompleted, StateFailed, false},
		{StatePending, StateCompleted, false},
		{StatePending, StateFailed, false},
		{StateFailed, StateCompleted, false},
		{StateInProgress, StateInProgress, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			require.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestAggregate(t *testing.T) {
	r := require.New(t)
	r.Equal(AggregatePending, Aggregate(nil))
	r.Equal(AggregatePending, Aggregate(map[string]PairState{
		"a": {State: StatePending}, "b": {State: StatePending},
	}))
	r.Equal(AggregateProcessing, Aggregate(map[string]PairState{
		"a": {State: StateInProgress}, "b": {State: StatePending},
	}))
	r.Equal(AggregateProcessing, Aggregate(map[string]PairState{
		"a": {State: StateCompleted}, "b": {State: StatePending},
	}))
	r.Equal(AggregateCompleted, Aggregate(map[string]PairState{
		"a": {State: StateCompleted}, "b": {State: StateCompleted},
	}))
	r.Equal(AggregateFailed, Aggregate(map[string]PairState{
		"a": {State: StateCompleted}, "b": {State: StateFailed},
	}))
}

func TestNewEntryID(t *testing.T) {
	r := require.New(t)
	obj := dom.Object{Bucket: "src", Name: "dir/k1", Version: "v1"}
	id := NewEntryID(obj)
	r.NoError(id.Validate())
	r.Equal(id, NewEntryID(obj))
	r.NotEqual(id, NewEntryID(dom.Object{Bucket: "src", Name: "dir/k1", Version: "v2"}))
	// separator makes bucket/key boundaries unambiguous
	r.NotEqual(NewEntryID(dom.Object{Bucket: "ab", Name: "c"}), NewEntryID(dom.Object{Bucket: "a", Name: "bc"}))

	r.ErrorIs(EntryID("zz").Validate(), dom.ErrInvalidArg)
}

func TestEntryValidate(t *testing.T) {
	r := require.New(t)
	e := Entry{Source: dom.Object{Bucket: "b", Name: "k"}, Targets: []string{"aws", "gcp"}}
	r.NoError(e.Validate())
	r.True(e.HasTarget("gcp"))
	r.False(e.HasTarget("azure"))

	e.Targets = []string{"aws", "aws"}
	r.ErrorIs(e.Validate(), dom.ErrInvalidArg)
	e.Targets = nil
	r.ErrorIs(e.Validate(), dom.ErrInvalidArg)
	e.Targets = []string{"aws"}
	e.Source.Name = ""
	r.ErrorIs(e.Validate(), dom.ErrInvalidArg)
}

func TestParseState(t *testing.T) {
	r := require.New(t)
	s, err := ParseState("completed")
	r.NoError(err)
	r.Equal(StateCompleted, s)
	_, err = ParseState("nope")
	r.ErrorIs(err, dom.ErrInvalidArg)
}
