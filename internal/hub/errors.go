package hub

import "errors"

var (
	ErrHubAlreadyRunning     = errors.New("hub is already running")
	ErrHubNotRunning         = errors.New("hub is not running")
	ErrRegisterChannelFull   = errors.New("register channel is full")
	ErrDisconnectChannelFull = errors.New("disconnect channel is full")
	ErrJoinChannelFull       = errors.New("join channel is full")
	ErrLeaveChannelFull      = errors.New("leave channel is full")
	ErrPublishChannelFull    = errors.New("publish channel is full")
)
