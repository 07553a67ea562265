package service

import (
	"encoding/json"
	"fmt"

	"github.com/orchestra-mcp/phxscope/src/types"
)

// Execute runs a command given in data form. The result is the
// command's return value: suggestions for suggest, the classified
// preview for preview, nil otherwise.
func (s *Service) Execute(cmd types.Command) (any, error) {
	switch cmd.Name {
	case types.CommandConnect:
		return nil, s.Connect(cmd.URL)
	case types.CommandDisconnect:
		return nil, s.Disconnect()
	case types.CommandJoin:
		return nil, s.Join(cmd.Topic)
	case types.CommandSend:
		if cmd.Topic != "" {
			return nil, s.SendTo(cmd.Topic, cmd.Event, cmd.Payload)
		}
		return nil, s.Send(cmd.Event, cmd.Payload)
	case types.CommandRecordHistory:
		if cmd.Field == "" {
			return nil, fmt.Errorf("record_history: %w: field is required", ErrInvalidCommand)
		}
		s.RecordHistory(cmd.Field, cmd.Value)
		return nil, nil
	case types.CommandSuggest:
		return s.QuerySuggestions(cmd.Field, cmd.Value), nil
	case types.CommandPreview:
		data, err := commandData(cmd)
		if err != nil {
			return nil, err
		}
		return s.RequestPreview(cmd.ContainerID, data)
	case types.CommandCopy:
		return nil, s.CopyToClipboard(cmd.Value)
	default:
		return nil, fmt.Errorf("%w: unknown command %q", ErrInvalidCommand, cmd.Name)
	}
}

// commandData returns the preview input of cmd: the decoded Data when
// present, the raw Payload string otherwise.
func commandData(cmd types.Command) (any, error) {
	if len(cmd.Data) > 0 {
		var v any
		if err := json.Unmarshal(cmd.Data, &v); err != nil {
			return nil, fmt.Errorf("preview: %w: %v", ErrInvalidCommand, err)
		}
		return v, nil
	}
	if cmd.Payload != "" {
		return cmd.Payload, nil
	}
	return nil, nil
}
