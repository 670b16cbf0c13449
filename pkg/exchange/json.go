package exchange

import (
	"encoding/json"
	"fmt"
	"io"
)

// jsonCodec is the lossless default codec.
type jsonCodec struct{}

func (jsonCodec) Format() Format { return FormatJSON }

func (jsonCodec) Encode(w io.Writer, env *Envelope) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(env); err != nil {
		return fmt.Errorf("exchange: failed to encode json: %w", err)
	}
	return nil
}

func (jsonCodec) Decode(r io.Reader) (*Envelope, error) {
	var env Envelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return nil, fmt.Errorf("exchange: failed to decode json: %w", err)
	}
	if env.Archives == nil {
		env.Archives = map[string][]Document{}
	}
	return &env, nil
}
