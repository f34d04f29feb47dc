package chat

import (
	"context"
	"fmt"

	"github.com/jabolina/go-groupchat/pkg/chat/helper"
	"github.com/jabolina/go-groupchat/pkg/chat/output"
	"github.com/jabolina/go-groupchat/pkg/chat/types"
)

// Verify if the given participant configuration is valid to be used.
// Missing optional values are filled with defaults.
func ValidateConfig(config *types.PeerConfiguration) error {
	if config.Version > types.LatestProtocolVersion {
		return fmt.Errorf("invalid protocol version %d, must be in 0 up to %d: %w", config.Version, types.LatestProtocolVersion, types.ErrInvalidConfiguration)
	}

	if config.Name == "" {
		return fmt.Errorf("participant name is empty: %w", types.ErrInvalidConfiguration)
	}

	if config.Registry == "" {
		return fmt.Errorf("registry address is empty: %w", types.ErrInvalidConfiguration)
	}

	if config.LockTimeout <= 0 || config.HeartbeatInterval <= 0 || config.ActionTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive: %w", types.ErrInvalidConfiguration)
	}

	if config.Logger == nil {
		config.Logger = helper.NewDefaultLogger(config.Name)
	}

	if config.Display == nil {
		config.Display = output.NewTranscript()
	}

	if config.Ctx == nil {
		config.Ctx, config.Cancel = context.WithCancel(context.Background())
	}
	return nil
}

// Verify if the given registry configuration is valid to be used.
func ValidateRegistryConfig(config *types.RegistryConfiguration) error {
	if config.Version > types.LatestProtocolVersion {
		return fmt.Errorf("invalid protocol version %d, must be in 0 up to %d: %w", config.Version, types.LatestProtocolVersion, types.ErrInvalidConfiguration)
	}

	if config.LivenessTimeout <= 0 || config.ActionTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive: %w", types.ErrInvalidConfiguration)
	}

	if config.Logger == nil {
		config.Logger = helper.NewDefaultLogger("registry")
	}

	if config.Ctx == nil {
		config.Ctx, config.Cancel = context.WithCancel(context.Background())
	}
	return nil
}
