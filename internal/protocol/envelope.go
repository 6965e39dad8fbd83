package protocol

import (
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Envelope is the wire representation of one event crossing a channel.
type Envelope struct {
	Channel string               `msgpack:"channel" json:"channel"`
	Name    string               `msgpack:"name" json:"name"`
	Args    []msgpack.RawMessage `msgpack:"args" json:"args"`
}

func (e Envelope) Validate() error {
	if strings.TrimSpace(e.Channel) == "" {
		return ErrMissingChannel
	}
	if strings.TrimSpace(e.Name) == "" {
		return ErrMissingName
	}
	return nil
}

// Marshal encodes env as msgpack.
func Marshal(env Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	if env.Args == nil {
		env.Args = []msgpack.RawMessage{}
	}
	return msgpack.Marshal(env)
}

// Unmarshal decodes one msgpack envelope.
func Unmarshal(data []byte) (Envelope, error) {
	if len(data) == 0 {
		return Envelope{}, ErrEmptyEnvelope
	}
	var env Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("protocol: decode envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	if env.Args == nil {
		env.Args = []msgpack.RawMessage{}
	}
	// msgpack decodes a nil element of a RawMessage slice as empty.
	for i, raw := range env.Args {
		if len(raw) == 0 {
			env.Args[i] = msgpack.RawMessage{msgpackNil}
		}
	}
	return env, nil
}
