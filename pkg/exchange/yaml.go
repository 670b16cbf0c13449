package exchange

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// yamlCodec round-trips the same structure as JSON in YAML syntax.
type yamlCodec struct{}

func (yamlCodec) Format() Format { return FormatYAML }

func (yamlCodec) Encode(w io.Writer, env *Envelope) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(env); err != nil {
		return fmt.Errorf("exchange: failed to encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("exchange: failed to finish yaml: %w", err)
	}
	return nil
}

func (yamlCodec) Decode(r io.Reader) (*Envelope, error) {
	var env Envelope
	if err := yaml.NewDecoder(r).Decode(&env); err != nil {
		return nil, fmt.Errorf("exchange: failed to decode yaml: %w", err)
	}
	if env.Archives == nil {
		env.Archives = map[string][]Document{}
	}
	return &env, nil
}
