package ws

import "errors"

// 错误定义
var (
	// 连接相关错误
	ErrTooManyConnections = errors.New("ws: too many connections")
	ErrSessionIDExists    = errors.New("ws: session id already exists")
	ErrSessionNotFound    = errors.New("ws: session not found")
	ErrSessionClosed      = errors.New("ws: session closed")

	// 房间相关错误
	ErrRoomNotFound = errors.New("ws: room not found")
	ErrRoomClosed   = errors.New("ws: room closed")

	// 扇出相关错误
	ErrSubscriptionClosed = errors.New("ws: subscription closed")
	ErrPublishToClosed    = errors.New("ws: publish to closed room")

	// 配置相关错误
	ErrInvalidConfig = errors.New("ws: invalid config")
)
