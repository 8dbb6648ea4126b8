package protocol

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/invopop/jsonschema"
	"github.com/tidwall/gjson"
)

// ChannelType is the scope of a channel.
type ChannelType string

const (
	System  ChannelType = "system"
	App     ChannelType = "app"
	Private ChannelType = "private"
)

func (ChannelType) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "string",
		Enum: []any{string(System), string(App), string(Private)},
	}
}

// DisplayMetadata is optional presentation data attached to a channel.
type DisplayMetadata struct {
	Name  string `json:"name,omitempty"`
	Color string `json:"color,omitempty"`
	Glyph string `json:"glyph,omitempty"`
}

// ChannelRef identifies a channel on the wire.
type ChannelRef struct {
	ID              string           `json:"id"`
	Type            ChannelType      `json:"type"`
	DisplayMetadata *DisplayMetadata `json:"displayMetadata,omitempty"`
}

// Same reports whether both refs point at the same (id, type) pair.
func (c ChannelRef) Same(other ChannelRef) bool {
	return c.ID == other.ID && c.Type == other.Type
}

func (c ChannelRef) String() string {
	return string(c.Type) + "/" + c.ID
}

// SystemChannel is a shorthand for a ref to a system channel.
func SystemChannel(id string) *ChannelRef {
	return &ChannelRef{ID: id, Type: System}
}

// Envelope is the unit exchanged between the broker and a peer.
type Envelope struct {
	InstanceID  string           `json:"instanceId,omitempty"`
	Action      Action           `json:"action"`
	Channel     *ChannelRef      `json:"channel,omitempty"`
	Context     Context          `json:"context,omitempty"`
	ContextType string           `json:"contextType,omitempty"`
	ListenerID  string           `json:"listenerId,omitempty"`
	Intent      string           `json:"intent,omitempty"`
	Target      string           `json:"target,omitempty"`
	Name        string           `json:"name,omitempty"`
	Channels    []ChannelRef     `json:"channels,omitempty"`
	Error       *ErrorDescriptor `json:"error,omitempty"`
}

// Fail returns a copy of the envelope annotated with err, used to echo a
// request back to its sender with failure semantics.
func (e Envelope) Fail(err error) Envelope {
	e.Error = NewErrorDescriptor(err)
	return e
}

// Failed reports whether the envelope carries an error descriptor.
func (e Envelope) Failed() bool {
	return e.Error != nil
}

// Encode serializes an envelope for transports that move bytes.
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Decode parses a serialized envelope.
func Decode(data []byte) (Envelope, error) {
	if !gjson.ValidBytes(data) {
		return Envelope{}, fmt.Errorf("%w: invalid json", ErrMalformedEnvelope)
	}
	if !gjson.ParseBytes(data).IsObject() {
		return Envelope{}, fmt.Errorf("%w: envelope must be an object", ErrMalformedEnvelope)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	return env, nil
}
