package forward

import "errors"

var (
	ErrInvalidRedisURL = errors.New("invalid redis url")
	ErrPublishFailed   = errors.New("failed to publish forward intent")
)
