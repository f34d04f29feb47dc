package chat

import (
	"context"
	"time"

	"github.com/jabolina/go-groupchat/pkg/chat/core"
	"github.com/jabolina/go-groupchat/pkg/chat/helper"
	"github.com/jabolina/go-groupchat/pkg/chat/output"
	"github.com/jabolina/go-groupchat/pkg/chat/registry"
	"github.com/jabolina/go-groupchat/pkg/chat/types"
)

const (
	// How long the floor is held before released automatically.
	DefaultLockTimeout = 10 * time.Second

	// Interval between heartbeats sent to the registry.
	DefaultHeartbeatInterval = time.Second

	// A node silent for this long is removed from the group.
	DefaultLivenessTimeout = 5 * time.Second

	// Timeout for the login and the transport I/O.
	DefaultActionTimeout = 5 * time.Second
)

// Creates the default configuration for a participant with the given
// name. The events are recorded on a transcript.
func DefaultConfiguration(name string) *types.PeerConfiguration {
	ctx, cancel := context.WithCancel(context.Background())
	return &types.PeerConfiguration{
		Name:              name,
		Version:           types.LatestProtocolVersion,
		LockTimeout:       DefaultLockTimeout,
		HeartbeatInterval: DefaultHeartbeatInterval,
		ActionTimeout:     DefaultActionTimeout,
		Display:           output.NewTranscript(),
		Logger:            helper.NewDefaultLogger(name),
		Ctx:               ctx,
		Cancel:            cancel,
	}
}

// Creates the default configuration for the registry.
func DefaultRegistryConfiguration() *types.RegistryConfiguration {
	ctx, cancel := context.WithCancel(context.Background())
	return &types.RegistryConfiguration{
		Version:         types.LatestProtocolVersion,
		LivenessTimeout: DefaultLivenessTimeout,
		ActionTimeout:   DefaultActionTimeout,
		Logger:          helper.NewDefaultLogger(registry.Name),
		Ctx:             ctx,
		Cancel:          cancel,
	}
}

// Creates a participant listening on the configured address over TCP.
func NewClient(configuration *types.PeerConfiguration) (*core.Client, error) {
	if err := ValidateConfig(configuration); err != nil {
		return nil, err
	}

	transport, err := core.NewTCPTransport(string(configuration.Address), nil, configuration.ActionTimeout, configuration.Logger)
	if err != nil {
		return nil, err
	}
	return core.NewClient(configuration, transport)
}

// Creates a participant using the given transport.
func NewClientOver(configuration *types.PeerConfiguration, transport core.Transport) (*core.Client, error) {
	if err := ValidateConfig(configuration); err != nil {
		transport.Close()
		return nil, err
	}
	return core.NewClient(configuration, transport)
}

// Creates the registry listening on the configured address over TCP.
func NewRegistry(configuration *types.RegistryConfiguration) (*registry.Registry, error) {
	if err := ValidateRegistryConfig(configuration); err != nil {
		return nil, err
	}

	transport, err := core.NewTCPTransport(string(configuration.Address), nil, configuration.ActionTimeout, configuration.Logger)
	if err != nil {
		return nil, err
	}
	return registry.NewRegistry(configuration, transport), nil
}

// Creates the registry using the given transport.
func NewRegistryOver(configuration *types.RegistryConfiguration, transport core.Transport) (*registry.Registry, error) {
	if err := ValidateRegistryConfig(configuration); err != nil {
		transport.Close()
		return nil, err
	}
	return registry.NewRegistry(configuration, transport), nil
}
