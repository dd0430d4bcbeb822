// Package hub implements the authenticated wire protocol between the hub
// and a running project: length/type-framed messages over TCP, a one-time
// secret-token handshake, and a fixed dispatch table for application events.
package hub

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Frame types. Every frame on the wire is a 4-byte big-endian length
// (covering the type byte plus payload) followed by the type byte and the
// payload, so partial socket reads reassemble deterministically.
const (
	// FrameSecret carries the one-time handshake payload. It must be the
	// first frame on a connection; nothing is dispatched before it succeeds.
	FrameSecret byte = 's'
	// FrameJSON carries a structured-text message envelope.
	FrameJSON byte = 'j'
	// FrameBlob carries a 36-byte blob id followed by raw bytes.
	FrameBlob byte = 'b'
	// FrameHeartbeat refreshes connection liveness. Never dispatched.
	FrameHeartbeat byte = 'h'
)

// MaxFrameSize caps a single frame's payload.
const MaxFrameSize = 16 << 20

// BlobIdLength is the fixed prefix of a blob frame (a raw 16-byte uuid).
const BlobIdLength = 16

// Frame is one decoded wire frame.
type Frame struct {
	Type    byte
	Payload []byte
}

// ReadFrame decodes the next frame, buffering partial reads.
func ReadFrame(r *bufio.Reader) (*Frame, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[:])
	if length == 0 {
		return nil, fmt.Errorf("protocol: empty frame")
	}
	if length > MaxFrameSize {
		return nil, fmt.Errorf("protocol: frame of %d bytes exceeds limit", length)
	}

	typ, err := r.ReadByte()
	if err != nil {
		return nil, err
	}

	payload := make([]byte, length-1)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}

	return &Frame{Type: typ, Payload: payload}, nil
}

// WriteFrame encodes one frame.
func WriteFrame(w io.Writer, typ byte, payload []byte) error {
	if len(payload)+1 > MaxFrameSize {
		return fmt.Errorf("protocol: frame of %d bytes exceeds limit", len(payload)+1)
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)+1))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if _, err := w.Write([]byte{typ}); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// HandshakePayload is the body of the FrameSecret frame.
type HandshakePayload struct {
	ProjectId string `json:"project_id"`
	Secret    string `json:"secret"`
}

// Message is the envelope of every FrameJSON message in either direction.
// Fields beyond event and id are event-specific and elided when unused.
type Message struct {
	Event string `json:"event"`
	Id    string `json:"id,omitempty"`

	// execute_code
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	Bash    bool     `json:"bash,omitempty"`
	Timeout int      `json:"timeout_ms,omitempty"`

	// file read/write and print_to_pdf
	Path          string `json:"path,omitempty"`
	Content       string `json:"content,omitempty"`
	ContentBase64 string `json:"content_base64,omitempty"`
	MaxBytes      int    `json:"max_bytes,omitempty"`

	// jupyter
	Code       string `json:"code,omitempty"`
	KernelName string `json:"kernel_name,omitempty"`

	// send_signal
	PID    int `json:"pid,omitempty"`
	Signal int `json:"signal,omitempty"`

	// save_blob
	BlobId string `json:"blob_id,omitempty"`
	Sha1   string `json:"sha1,omitempty"`

	// replies
	ExitCode *int     `json:"exit_code,omitempty"`
	Stdout   string   `json:"stdout,omitempty"`
	Stderr   string   `json:"stderr,omitempty"`
	Kernels  []string `json:"kernels,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// DecodeMessage parses a FrameJSON payload.
func DecodeMessage(payload []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("protocol: decode message: %w", err)
	}
	if msg.Event == "" {
		return nil, fmt.Errorf("protocol: message without event")
	}
	return &msg, nil
}

// ErrorReply builds the explicit error reply for a request id.
func ErrorReply(id, format string, args ...interface{}) *Message {
	return &Message{Event: "error", Id: id, Error: fmt.Sprintf(format, args...)}
}
