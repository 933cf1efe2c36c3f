package domain

import "errors"

var ErrNotFound = errors.New("not found")

// Failure taxonomy shared by the controller, the channel and the downloader.
var (
	ErrReplaceFailed   = errors.New("no usable source")
	ErrAuthExpired     = errors.New("authorization expired")
	ErrRateLimited     = errors.New("rate limited")
	ErrTransport       = errors.New("transport error")
	ErrChannelTimeout  = errors.New("channel timeout")
	ErrChannelNotReady = errors.New("channel not ready")
	ErrDownloadFailed  = errors.New("download failed")
	ErrOutOfRange      = errors.New("position outside resumable range")
	ErrInvalidArgument = errors.New("invalid argument")
)
