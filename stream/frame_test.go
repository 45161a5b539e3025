package stream

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marketflow/tvstream/types"
)

func TestEncodeFrame(t *testing.T) {
	payload := []byte(`{"m":"quote_create_session","p":["qs_x7k2m9pq4t1n"]}`)
	frame := encodeFrame(payload)
	require.Equal(t, "~m~52~m~"+string(payload), string(frame))
}

func TestDecodeFrames(t *testing.T) {
	t.Run("single data frame", func(t *testing.T) {
		frames, err := decodeFrames([]byte(`~m~16~m~{"m":"x","p":[]}`))
		require.NoError(t, err)
		require.Len(t, frames, 1)
		require.False(t, frames[0].Heartbeat)
		require.Equal(t, `{"m":"x","p":[]}`, string(frames[0].Payload))
	})

	t.Run("concatenated frames", func(t *testing.T) {
		frames, err := decodeFrames([]byte(`~m~16~m~{"m":"a","p":[]}~h~7~m~16~m~{"m":"b","p":[]}`))
		require.NoError(t, err)
		require.Len(t, frames, 3)
		require.Equal(t, `{"m":"a","p":[]}`, string(frames[0].Payload))
		require.True(t, frames[1].Heartbeat)
		require.Equal(t, "~h~7", string(frames[1].Raw))
		require.Equal(t, `{"m":"b","p":[]}`, string(frames[2].Payload))
	})

	t.Run("heartbeat wrapped in a data frame", func(t *testing.T) {
		frames, err := decodeFrames([]byte("~m~4~m~~h~1"))
		require.NoError(t, err)
		require.Len(t, frames, 1)
		require.True(t, frames[0].Heartbeat)
		require.Equal(t, "~m~4~m~~h~1", string(frames[0].Raw))
		require.Nil(t, frames[0].Payload)
	})

	t.Run("round trip", func(t *testing.T) {
		payload := []byte(`{"m":"qsd","p":["qs_1",{"n":"BIST:THYAO"}]}`)
		frames, err := decodeFrames(encodeFrame(payload))
		require.NoError(t, err)
		require.Len(t, frames, 1)
		require.Equal(t, payload, frames[0].Payload)
	})

	t.Run("truncated payload", func(t *testing.T) {
		_, err := decodeFrames([]byte(`~m~50~m~{"m":"x"}`))
		require.Error(t, err)
		require.ErrorIs(t, err, types.ErrTransport)
	})

	t.Run("unrecognized header", func(t *testing.T) {
		_, err := decodeFrames([]byte(`garbage~m~2~m~{}`))
		require.Error(t, err)
		require.ErrorIs(t, err, types.ErrTransport)
	})

	t.Run("empty read", func(t *testing.T) {
		frames, err := decodeFrames(nil)
		require.NoError(t, err)
		require.Empty(t, frames)
	})
}

func TestTruncateForLog(t *testing.T) {
	require.Equal(t, "short", truncateForLog([]byte("short")))

	long := truncateForLog([]byte("0123456789012345678901234567890123456789"))
	require.Equal(t, "012345678901234567890123...", long)
}
