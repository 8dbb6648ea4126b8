package protocol

import "github.com/invopop/jsonschema"

var reflector = jsonschema.Reflector{
	AllowAdditionalProperties: false,
	DoNotReference:            true,
}

// Schema returns the JSON schema of the envelope.
func Schema() *jsonschema.Schema {
	return reflector.Reflect(&Envelope{})
}
