package providers

import "github.com/orchestra-mcp/phxscope/src/types"

// CommandDefinition describes one command accepted by the control port
// and the event stream.
type CommandDefinition struct {
	Name        types.CommandName `json:"name"`
	Description string            `json:"description"`
	InputSchema map[string]any    `json:"input_schema"`
}

func stringArg(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

var commandCatalog = []CommandDefinition{
	{
		Name:        types.CommandConnect,
		Description: "Connect to a Phoenix socket endpoint, replacing any current connection",
		InputSchema: map[string]any{"url": stringArg("Endpoint URL (ws, wss, http or https)")},
	},
	{
		Name:        types.CommandDisconnect,
		Description: "Close the current connection",
		InputSchema: map[string]any{},
	},
	{
		Name:        types.CommandJoin,
		Description: "Join a channel topic and make it the send target",
		InputSchema: map[string]any{"topic": stringArg("Channel topic")},
	},
	{
		Name:        types.CommandSend,
		Description: "Push an event on the active or given topic",
		InputSchema: map[string]any{
			"topic":   stringArg("Joined topic, defaults to the active one"),
			"event":   stringArg("Event name"),
			"payload": stringArg("Payload text, sent as JSON when it parses"),
		},
	},
	{
		Name:        types.CommandRecordHistory,
		Description: "Remember a value for an input field",
		InputSchema: map[string]any{"field": stringArg("Field id"), "value": stringArg("Value")},
	},
	{
		Name:        types.CommandSuggest,
		Description: "List remembered values of a field containing a term",
		InputSchema: map[string]any{"field": stringArg("Field id"), "value": stringArg("Search term")},
	},
	{
		Name:        types.CommandPreview,
		Description: "Classify and render a payload into a preview container",
		InputSchema: map[string]any{
			"container_id": stringArg("Preview container"),
			"data":         map[string]any{"description": "Payload to preview"},
		},
	},
	{
		Name:        types.CommandCopy,
		Description: "Copy text to the terminal clipboard",
		InputSchema: map[string]any{"value": stringArg("Text to copy")},
	},
}
