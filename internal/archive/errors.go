package archive

import "errors"

var (
	ErrArchiveClosed = errors.New("archive is closed")
	ErrWriteTimeout  = errors.New("archive write timed out")
	ErrInvalidConfig = errors.New("invalid archive configuration")
)
