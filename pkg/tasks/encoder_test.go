package tasks

import (
	"context"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/clyso/crr/pkg/dom"
	"github.com/clyso/crr/pkg/entity"
)

func Test_toTaskID(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "all set",
			args: []string{"a", "b", "c"},
			want: "a:b:c",
		},
		{
			name: "with empty",
			args: []string{"a", "b", ""},
			want: "a:b:",
		},
		{
			name: "all empty",
			args: []string{"", "", ""},
			want: "::",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := toTaskID(tt.args...); got != tt.want {
				t.Errorf("toTaskID() = %v, want %v", got, tt.want)
			}
		})
	}
}

func Test_encode_Attempt(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	expect := AttemptPayload{
		EntryID:     entity.NewEntryID(dom.Object{Bucket: "src", Name: "k1", Version: "v1"}),
		Destination: "gcp",
	}
	_, err := NewAttemptTask(ctx, expect)
	r.ErrorIs(err, dom.ErrInvalidArg, "should fail without lease token")

	expect.LeaseToken = "tok"
	expect.Epoch = 3
	task, err := NewAttemptTask(ctx, expect)
	r.NoError(err)
	r.Equal(TypeAttempt, task.Type())

	got, err := DecodeAttempt(task)
	r.NoError(err)
	r.Equal(expect, got)

	lease := got.Lease()
	r.Equal(expect.EntryID, lease.ID)
	r.Equal("gcp", lease.Destination)
	r.EqualValues(3, lease.Epoch)
	r.Equal(expect, AttemptFromLease(lease))

	_, err = DecodeAttempt(asynq.NewTask(TypeAttempt, []byte("{")))
	r.ErrorIs(err, dom.ErrInvalidArg)
	_, err = DecodeAttempt(asynq.NewTask("other", nil))
	r.ErrorIs(err, dom.ErrInvalidArg)
}

func Test_QueueName(t *testing.T) {
	r := require.New(t)
	r.Equal("crr:azure", QueueName("azure"))
	dest, ok := DestinationFromQueue("crr:azure")
	r.True(ok)
	r.Equal("azure", dest)
	_, ok = DestinationFromQueue("event:azure")
	r.False(ok)
	r.Equal(map[string]int{"crr:aws": 1}, ServerQueues("aws"))
}
