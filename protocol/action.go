package protocol

import "github.com/invopop/jsonschema"

// Action is the tag that selects how an envelope is routed.
type Action string

const (
	Connect               Action = "CONNECT"
	JoinChannel           Action = "JOIN_CHANNEL"
	AddContextListener    Action = "ADD_CONTEXT_LISTENER"
	RemoveContextListener Action = "REMOVE_CONTEXT_LISTENER"
	Broadcast             Action = "BROADCAST"
	RaiseIntent           Action = "RAISE_INTENT"
	AddIntentListener     Action = "ADD_INTENT_LISTENER"
	RemoveIntentListener  Action = "REMOVE_INTENT_LISTENER"
	GetSystemChannels     Action = "GET_SYSTEM_CHANNELS"
	Open                  Action = "OPEN"
)

// Actions lists every action the protocol defines.
var Actions = []Action{
	Connect,
	JoinChannel,
	AddContextListener,
	RemoveContextListener,
	Broadcast,
	RaiseIntent,
	AddIntentListener,
	RemoveIntentListener,
	GetSystemChannels,
	Open,
}

func (a Action) String() string {
	return string(a)
}

// JSONSchema restricts the action to the known tags.
func (Action) JSONSchema() *jsonschema.Schema {
	s := &jsonschema.Schema{Type: "string"}
	for _, a := range Actions {
		s.Enum = append(s.Enum, string(a))
	}
	return s
}
