package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	FixedHeaderLen uint16 = 16
	Magic          uint32 = 0x554E5631 // "UNV1"
	Version        uint16 = 1

	// FlagEnvelope marks a payload holding one msgpack envelope.
	FlagEnvelope uint32 = 0x01
)

var (
	ErrShortHeader        = errors.New("frame: short fixed header")
	ErrHeaderLenTooSmall  = errors.New("frame: header_len smaller than fixed header")
	ErrInvalidMagic       = errors.New("frame: invalid magic")
	ErrUnsupportedVersion = errors.New("frame: unsupported version")
	ErrPayloadTooLarge    = errors.New("frame: payload too large")
)

// Header is the fixed wire header.
type Header struct {
	Magic      uint32
	Version    uint16
	HeaderLen  uint16
	Flags      uint32
	PayloadLen uint32
}

// Frame is one complete wire message.
type Frame struct {
	Header  Header
	Payload []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 4 * 1024 * 1024,
	}
}

// New wraps payload in a frame carrying the current magic and version.
func New(flags uint32, payload []byte) Frame {
	return Frame{
		Header:  Header{Magic: Magic, Version: Version, Flags: flags},
		Payload: payload,
	}
}

func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [FixedHeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}
		// A clean EOF between frames is passed through so readers can stop.
		return Frame{}, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Frame{}, err
	}
	if h.Magic != Magic {
		return Frame{}, ErrInvalidMagic
	}
	if h.Version != Version {
		return Frame{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	if h.HeaderLen < FixedHeaderLen {
		return Frame{}, ErrHeaderLenTooSmall
	}
	if h.PayloadLen > limits.MaxPayloadBytes {
		return Frame{}, ErrPayloadTooLarge
	}

	if extra := int64(h.HeaderLen - FixedHeaderLen); extra > 0 {
		if _, err := io.CopyN(io.Discard, r, extra); err != nil {
			return Frame{}, err
		}
	}

	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Header: h, Payload: payload}, nil
}

func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	if uint64(len(f.Payload)) > uint64(limits.MaxPayloadBytes) {
		return ErrPayloadTooLarge
	}

	h := f.Header
	h.HeaderLen = FixedHeaderLen
	h.PayloadLen = uint32(len(f.Payload))

	buf := make([]byte, 0, int(FixedHeaderLen)+len(f.Payload))
	buf = append(buf, EncodeHeader(h)...)
	buf = append(buf, f.Payload...)
	_, err := w.Write(buf)
	return err
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, FixedHeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.HeaderLen)
	binary.BigEndian.PutUint32(buf[8:12], h.Flags)
	binary.BigEndian.PutUint32(buf[12:16], h.PayloadLen)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != int(FixedHeaderLen) {
		return Header{}, fmt.Errorf("frame: invalid fixed header length: %d", len(b))
	}
	return Header{
		Magic:      binary.BigEndian.Uint32(b[0:4]),
		Version:    binary.BigEndian.Uint16(b[4:6]),
		HeaderLen:  binary.BigEndian.Uint16(b[6:8]),
		Flags:      binary.BigEndian.Uint32(b[8:12]),
		PayloadLen: binary.BigEndian.Uint32(b[12:16]),
	}, nil
}
