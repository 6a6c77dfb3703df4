package certificate

import (
	"encoding/json"
	"encoding/pem"

	"github.com/fxamacker/cbor/v2"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/svens/salcrypto/view"
)

// MarshalText renders the certificate as PEM armor, matching the library's
// own certificate-text idiom.
func (c Certificate) MarshalText() ([]byte, error) {
	if c.IsEmpty() {
		return []byte{}, nil
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.x.Raw}), nil
}

// UnmarshalText parses PEM or bare-base64 armor via FromPEM.
func (c *Certificate) UnmarshalText(text []byte) error {
	parsed, err := FromPEM(view.Of(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func (c Certificate) MarshalJSON() ([]byte, error) {
	text, err := c.MarshalText()
	if err != nil {
		return nil, err
	}
	return json.Marshal(string(text))
}

func (c *Certificate) UnmarshalJSON(p []byte) error {
	var s string
	if err := json.Unmarshal(p, &s); err != nil {
		return err
	}
	return c.UnmarshalText([]byte(s))
}

func (c Certificate) MarshalYAML() (interface{}, error) {
	text, err := c.MarshalText()
	if err != nil {
		return nil, err
	}
	return string(text), nil
}

func (c *Certificate) UnmarshalYAML(value *yaml.Node) error {
	return c.UnmarshalText([]byte(value.Value))
}

func (c Certificate) MarshalTOML() ([]byte, error) {
	text, err := c.MarshalText()
	if err != nil {
		return nil, err
	}
	return toml.Marshal(string(text))
}

func (c *Certificate) UnmarshalTOML(i interface{}) error {
	switch v := i.(type) {
	case string:
		return c.UnmarshalText([]byte(v))
	case []byte:
		return c.UnmarshalText(v)
	default:
		return ErrInvalidCertificate
	}
}

func (c Certificate) MarshalCBOR() ([]byte, error) {
	text, err := c.MarshalText()
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(string(text))
}

func (c *Certificate) UnmarshalCBOR(data []byte) error {
	var s string
	if err := cbor.Unmarshal(data, &s); err != nil {
		return err
	}
	return c.UnmarshalText([]byte(s))
}
