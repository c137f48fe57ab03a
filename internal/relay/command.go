package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// directory commands accepted in the body of a packet sent to ServerRecipient
const (
	CommandList            = "list"
	CommandListControllers = "list_controllers"
	CommandListReceivers   = "list_receivers"
)

// CommandProcessor answers directory queries from controllers.
type CommandProcessor struct {
	registry *Registry
	logger   *slog.Logger
}

func NewCommandProcessor(registry *Registry, logger *slog.Logger) *CommandProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandProcessor{registry: registry, logger: logger}
}

// Execute runs one command and returns its result as a JSON array literal.
// Unrecognized commands return ErrUnknownCommand.
func (p *CommandProcessor) Execute(command string) (string, error) {
	var result []string
	switch command {
	case CommandList:
		roles := p.registry.List()
		result = make([]string, 0, len(roles))
		for _, role := range roles {
			result = append(result, role.String())
		}
	case CommandListControllers:
		result = p.registry.ListControllers()
	case CommandListReceivers:
		result = p.registry.ListReceivers()
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}

	data, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to encode command result: %w", err)
	}
	return string(data), nil
}

// Handle turns a command packet from controller into the reply packet.
// A nil packet with a nil error means the command was unknown and ignored.
func (p *CommandProcessor) Handle(controller Role, req Packet) (*Packet, error) {
	name, err := controller.Name()
	if err != nil {
		return nil, err
	}

	result, err := p.Execute(req.Body)
	if errors.Is(err, ErrUnknownCommand) {
		p.logger.Info("unknown_command_ignored",
			"controller", name,
			"command", req.Body,
			"packet_id", req.ID,
		)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	reply, err := Message{From: ServerRecipient, To: name, Body: result}.JSON()
	if err != nil {
		return nil, err
	}

	p.logger.Info("command_answered",
		"controller", name,
		"command", req.Body,
		"packet_id", req.ID,
	)
	packet := controller.NewPacketWithID(reply, req.ID)
	return &packet, nil
}
