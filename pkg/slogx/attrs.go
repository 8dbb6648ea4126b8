package slogx

import (
	"fmt"
	"log/slog"
)

// Error returns a slog.Attr representing the provided error.
// The attribute key is "error" and the value is the error's message.
func Error(err error) slog.Attr {
	return slog.String("error", err.Error())
}

// Stringer creates a slog.Attr with the provided key and the string representation
// of the given fmt.Stringer value.
func Stringer(key string, value fmt.Stringer) slog.Attr {
	return slog.String(key, value.String())
}

const (
	// KeyLoggerName is the key for the logger name attribute.
	KeyLoggerName = "logger"
	// KeyInstanceID is the key for a peer instance id.
	KeyInstanceID = "instance_id"
	// KeyAction is the key for a protocol action tag.
	KeyAction = "action"
	// KeyChannel is the key for a channel id.
	KeyChannel = "channel"
	// KeyListenerID is the key for a listener id.
	KeyListenerID = "listener_id"
)

// LoggerName creates a slog.Attr with the provided logger name.
// The attribute key is defined by KeyLoggerName.
func LoggerName(name string) slog.Attr {
	return slog.String(KeyLoggerName, name)
}

// InstanceID tags a log record with the peer it concerns.
func InstanceID(id string) slog.Attr {
	return slog.String(KeyInstanceID, id)
}

// Action tags a log record with a protocol action.
func Action[S ~string](action S) slog.Attr {
	return slog.String(KeyAction, string(action))
}

// Channel tags a log record with a channel id.
func Channel(id string) slog.Attr {
	return slog.String(KeyChannel, id)
}

// ListenerID tags a log record with a listener id.
func ListenerID(id string) slog.Attr {
	return slog.String(KeyListenerID, id)
}
