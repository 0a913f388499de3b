package taskqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTaskCodec(t *testing.T) {
	in := Task{
		ActionID:         "cmd-001",
		SessionID:        "s1",
		Command:          "TEXT",
		Parameter:        "ls -la",
		WorkingDirectory: "/tmp",
		EnqueuedAt:       time.Now().UTC().Truncate(time.Millisecond),
	}
	data, err := EncodeTask(in)
	require.NoError(t, err)

	out, err := DecodeTask(data)
	require.NoError(t, err)
	require.Equal(t, in.ActionID, out.ActionID)
	require.Equal(t, in.Parameter, out.Parameter)
	require.True(t, in.EnqueuedAt.Equal(out.EnqueuedAt))

	_, err = DecodeTask([]byte("not gob"))
	require.Error(t, err)
}
