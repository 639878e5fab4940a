package api

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, FrameResults, []byte("payload")))
	require.NoError(t, WriteFrame(&buf, FrameReset, nil))

	f, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, FrameResults, f.Kind)
	assert.Equal(t, []byte("payload"), f.Payload)

	f, err = ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, FrameReset, f.Kind)
	assert.Empty(t, f.Payload)

	_, err = ReadFrame(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrameLimits(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(MaxMessageSize+1)))
	_, err := ReadFrame(&buf)
	assert.ErrorIs(t, err, ErrMessageTooLarge)

	buf.Reset()
	require.NoError(t, WriteMessage(&buf, nil))
	_, err = ReadFrame(&buf)
	assert.ErrorIs(t, err, ErrEmptyFrame)

	buf.Reset()
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(10)))
	buf.WriteString("short")
	_, err = ReadFrame(&buf)
	assert.Error(t, err)

	assert.ErrorIs(t, WriteMessage(io.Discard, make([]byte, MaxMessageSize+1)), ErrMessageTooLarge)
}

func TestFrameKindString(t *testing.T) {
	assert.Equal(t, "readings", FrameReadings.String())
	assert.Equal(t, "unknown(63)", FrameKind('?').String())
}

func FuzzReadFrame(f *testing.F) {
	var buf bytes.Buffer
	_ = WriteFrame(&buf, FrameAuth, []byte(`{"type":"auth","token":"x"}`))
	f.Add(buf.Bytes())
	f.Add([]byte{0, 0, 0, 0})
	f.Add([]byte{0xff, 0xff, 0xff, 0xff})

	f.Fuzz(func(t *testing.T, data []byte) {
		frame, err := ReadFrame(bytes.NewReader(data))
		if err != nil {
			return
		}
		var out bytes.Buffer
		if err := WriteFrame(&out, frame.Kind, frame.Payload); err != nil {
			t.Fatalf("rewrite failed: %v", err)
		}
		if !bytes.Equal(out.Bytes(), data[:out.Len()]) {
			t.Fatalf("frame did not round trip")
		}
	})
}
