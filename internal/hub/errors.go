package hub

import "errors"

// Hub-specific error types
var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrForwardQueueFull  = errors.New("forward queue is full")
	ErrEncodeFailed      = errors.New("failed to encode outbound event")
)
