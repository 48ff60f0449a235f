package errors

/*
	内置错误码

	准入失败对外统一返回 403 且不带响应体，
	错误码仅用于内部日志与指标区分具体原因。
*/

var (
	// ErrServer 服务器错误
	ErrServer = New(1000, 500, "internal server error")
	// ErrBadRequest 客户端请求错误
	ErrBadRequest = New(1001, 400, "bad request")

	// ErrForbiddenOrigin Origin 不在白名单
	ErrForbiddenOrigin = New(4030, 403, "origin not allowed")
	// ErrUnauthenticated 缺失或格式错误的凭证
	ErrUnauthenticated = New(4031, 403, "missing authentication token")
	// ErrInvalidToken 签名无效、已过期或缺少必要声明
	ErrInvalidToken = New(4032, 403, "invalid or expired token")
	// ErrRateLimited 触发限流（IP/身份/消息）
	ErrRateLimited = New(4033, 403, "rate limit exceeded")
)
