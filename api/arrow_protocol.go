package api

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// MaxMessageSize is the maximum allowed frame size (50MB).
const MaxMessageSize = 50 * 1024 * 1024

// ErrMessageTooLarge is returned when a frame exceeds MaxMessageSize.
var ErrMessageTooLarge = errors.New("message size exceeds maximum allowed size")

// ErrEmptyFrame is returned for a frame without a kind byte.
var ErrEmptyFrame = errors.New("empty frame")

// FrameKind is the first payload byte of every Arrow session frame.
type FrameKind byte

// Frame kinds. Requests flow client to server, responses the other way.
const (
	FrameAuth     FrameKind = 'A' // JSON AuthMessage
	FrameReadings FrameKind = 'D' // Arrow IPC stream in ReadingSchema
	FrameReset    FrameKind = 'Z' // no payload
	FrameResults  FrameKind = 'R' // Arrow IPC stream in ResultSchema
	FrameError    FrameKind = 'E' // UTF-8 error text
	FrameOK       FrameKind = 'K' // JSON AuthResponse or empty
)

func (k FrameKind) String() string {
	switch k {
	case FrameAuth:
		return "auth"
	case FrameReadings:
		return "readings"
	case FrameReset:
		return "reset"
	case FrameResults:
		return "results"
	case FrameError:
		return "error"
	case FrameOK:
		return "ok"
	default:
		return fmt.Sprintf("unknown(%d)", byte(k))
	}
}

// Frame is one decoded session message.
type Frame struct {
	Kind    FrameKind
	Payload []byte
}

// ReadMessage reads a length-prefixed message from the reader.
// Format: [4 bytes length (BigEndian)] [N bytes payload]
func ReadMessage(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	if length > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes (max: %d)", ErrMessageTooLarge, length, MaxMessageSize)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}
	return buf, nil
}

// WriteMessage writes a length-prefixed message to the writer.
func WriteMessage(w io.Writer, data []byte) error {
	if len(data) > math.MaxUint32 {
		return fmt.Errorf("%w: data length %d exceeds uint32 max", ErrMessageTooLarge, len(data))
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes (max: %d)", ErrMessageTooLarge, len(data), MaxMessageSize)
	}

	length := uint32(len(data)) // #nosec G115 - bounds checked above
	if err := binary.Write(w, binary.BigEndian, length); err != nil {
		return fmt.Errorf("failed to write message length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write message body: %w", err)
	}
	return nil
}

// ReadFrame reads one message and splits off its kind byte.
func ReadFrame(r io.Reader) (Frame, error) {
	data, err := ReadMessage(r)
	if err != nil {
		return Frame{}, err
	}
	if len(data) == 0 {
		return Frame{}, ErrEmptyFrame
	}
	return Frame{Kind: FrameKind(data[0]), Payload: data[1:]}, nil
}

// WriteFrame writes kind followed by payload as one message.
func WriteFrame(w io.Writer, kind FrameKind, payload []byte) error {
	buf := make([]byte, 0, len(payload)+1)
	buf = append(buf, byte(kind))
	buf = append(buf, payload...)
	return WriteMessage(w, buf)
}
