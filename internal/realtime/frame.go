package realtime

import (
	"encoding/json"
	"strings"
)

// Wire commands for the JSON frame envelope exchanged with the server.
type command string

const (
	commandConnect     command = "CONNECT"
	commandConnected   command = "CONNECTED"
	commandError       command = "ERROR"
	commandSubscribe   command = "SUBSCRIBE"
	commandUnsubscribe command = "UNSUBSCRIBE"
	commandSend        command = "SEND"
	commandMessage     command = "MESSAGE"
)

const authorizationHeader = "authorization"

// frame is the wire envelope. Bodies are carried as text so that
// pre-serialized payloads pass through unchanged in both directions.
type frame struct {
	Command     command           `json:"command"`
	Destination string            `json:"destination,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        string            `json:"body,omitempty"`
	Message     string            `json:"message,omitempty"`
}

// Message is one inbound payload delivered to destination handlers.
//
// Payloads that parse as JSON arrive with Parsed set and Body populated;
// anything else is delivered as opaque text. Malformed payloads are a
// data-content concern for the handler, never a transport failure.
type Message struct {
	Destination string
	Body        json.RawMessage
	Text        string
	Parsed      bool
}

// Handler consumes inbound messages for one destination registration.
type Handler func(Message)

func newInboundMessage(destination, body string) Message {
	trimmed := strings.TrimSpace(body)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		if json.Valid([]byte(trimmed)) {
			return Message{
				Destination: destination,
				Body:        json.RawMessage(trimmed),
				Parsed:      true,
			}
		}
	}
	return Message{
		Destination: destination,
		Text:        body,
	}
}
