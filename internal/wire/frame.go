package wire

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

const (
	// HeaderSize is the size of the fixed frame header in bytes.
	HeaderSize = 16

	// MessageType is the message type carried in every command frame.
	MessageType = 1000

	// HeaderVersion is the trailing version word of the frame header.
	HeaderVersion = 100

	// MaxPayloadSize bounds a single inbound payload. Anything larger is
	// treated as a corrupt stream.
	MaxPayloadSize = 1024 * 1024 // 1MB

	// DefaultTag is the client routing tag placed in front of every command.
	DefaultTag = "heartvista"
)

// Header is the fixed 16-byte big-endian frame header.
//
// Wire layout:
//
//	uint16 header length (always 16)
//	uint16 message type (1000)
//	uint32 payload length
//	uint32 reserved (0)
//	uint32 version (100)
type Header struct {
	HeaderLen   uint16
	MessageType uint16
	Length      uint32
	Reserved    uint32
	Version     uint32
}

// EncodeFrame builds one outbound frame for a command.
//
// The payload is the routing prefix ">tag:1:counter>" followed by the
// encoded command text.
func EncodeFrame(tag string, counter uint64, text string) []byte {
	if tag == "" {
		tag = DefaultTag
	}

	payload := ">" + tag + ":1:" + strconv.FormatUint(counter, 10) + ">" + text

	frame := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint16(frame[0:2], HeaderSize)
	binary.BigEndian.PutUint16(frame[2:4], MessageType)
	binary.BigEndian.PutUint32(frame[4:8], uint32(len(payload))) //nolint:gosec // bounded by command size
	binary.BigEndian.PutUint32(frame[8:12], 0)
	binary.BigEndian.PutUint32(frame[12:16], HeaderVersion)
	copy(frame[HeaderSize:], payload)

	return frame
}

// DecodeHeader parses a frame header from the first HeaderSize bytes of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("short header: %d bytes", len(b))
	}

	h := Header{
		HeaderLen:   binary.BigEndian.Uint16(b[0:2]),
		MessageType: binary.BigEndian.Uint16(b[2:4]),
		Length:      binary.BigEndian.Uint32(b[4:8]),
		Reserved:    binary.BigEndian.Uint32(b[8:12]),
		Version:     binary.BigEndian.Uint32(b[12:16]),
	}

	if h.HeaderLen != HeaderSize {
		return h, fmt.Errorf("unexpected header length %d", h.HeaderLen)
	}

	if h.Length > MaxPayloadSize {
		return h, fmt.Errorf("payload length %d exceeds limit %d", h.Length, MaxPayloadSize)
	}

	return h, nil
}

// FrameBuffer reassembles frames from a byte stream that may be delivered
// in arbitrary chunks (for example when reads are cut short by a deadline).
type FrameBuffer struct {
	buf []byte
}

// Write appends stream bytes to the buffer.
func (f *FrameBuffer) Write(p []byte) (int, error) {
	f.buf = append(f.buf, p...)

	return len(p), nil
}

// Next returns the next complete frame payload, if one is buffered.
//
// It returns ok=false when more bytes are needed. A non-nil error means the
// stream is corrupt and cannot be resynchronized.
func (f *FrameBuffer) Next() (payload []byte, ok bool, err error) {
	if len(f.buf) < HeaderSize {
		return nil, false, nil
	}

	h, err := DecodeHeader(f.buf)
	if err != nil {
		return nil, false, err
	}

	total := HeaderSize + int(h.Length)
	if len(f.buf) < total {
		return nil, false, nil
	}

	payload = make([]byte, h.Length)
	copy(payload, f.buf[HeaderSize:total])

	// Compact so the backing array does not grow without bound.
	f.buf = append(f.buf[:0], f.buf[total:]...)

	return payload, true, nil
}

// Buffered reports the number of bytes waiting for a complete frame.
func (f *FrameBuffer) Buffered() int {
	return len(f.buf)
}

// PayloadText converts an inbound payload to text, dropping invalid UTF-8.
func PayloadText(payload []byte) string {
	return strings.ToValidUTF8(string(payload), "")
}
