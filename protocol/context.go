package protocol

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/invopop/jsonschema"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var jsonNull = []byte(`null`)

// Context is an application-defined JSON object. The only field the broker
// reads is the required string "type"; everything else is opaque.
type Context []byte

// NewContext returns a context with just the given type.
func NewContext(contextType string) Context {
	c, err := sjson.SetBytes([]byte(`{}`), "type", contextType)
	if err != nil {
		panic(err)
	}
	return c
}

// ParseContext validates that data is a JSON object and returns it as a Context.
// The type field is not required here; use Validate before storing or delivering.
func ParseContext(data []byte) (Context, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid json: %s", ErrInvalidContext, data)
	}
	if !gjson.ParseBytes(data).IsObject() {
		return nil, fmt.Errorf("%w: context must be a JSON object", ErrInvalidContext)
	}
	return slices.Clone(Context(data)), nil
}

// MustContext is ParseContext for literals; it panics on invalid input.
func MustContext(data string) Context {
	c, err := ParseContext([]byte(data))
	if err != nil {
		panic(err)
	}
	return c
}

// Type returns the context type, or "" when absent or not a string.
func (c Context) Type() string {
	if len(c) == 0 {
		return ""
	}
	t := gjson.GetBytes(c, "type")
	if t.Type != gjson.String {
		return ""
	}
	return t.String()
}

// Get reads a field by gjson path.
func (c Context) Get(path string) gjson.Result {
	return gjson.GetBytes(c, path)
}

// With returns a copy of the context with value set at path.
func (c Context) With(path string, value any) (Context, error) {
	base := []byte(c)
	if len(base) == 0 {
		base = []byte(`{}`)
	}
	out, err := sjson.SetBytes(slices.Clone(base), path, value)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Validate fails with ErrInvalidContext when the context carries no type.
func (c Context) Validate() error {
	if c.Type() == "" {
		return fmt.Errorf("%w: context has no type", ErrInvalidContext)
	}
	return nil
}

// IsZero reports whether the context is absent.
func (c Context) IsZero() bool {
	return len(c) == 0 || bytes.Equal(c, jsonNull)
}

func (c Context) String() string {
	return string(c)
}

// MarshalJSON writes the raw object, or null when absent.
func (c Context) MarshalJSON() ([]byte, error) {
	if len(c) == 0 {
		return jsonNull, nil
	}
	return c, nil
}

// UnmarshalJSON keeps a private copy of the raw object.
func (c *Context) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, jsonNull) {
		*c = nil
		return nil
	}
	parsed, err := ParseContext(data)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// JSONSchema describes a context as an open object with a required type.
func (Context) JSONSchema() *jsonschema.Schema {
	props := orderedmap.New[string, *jsonschema.Schema]()
	props.Set("type", &jsonschema.Schema{Type: "string"})
	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   []string{"type"},
	}
}
