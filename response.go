package uchat

import "net/http"

// Response 统一响应结构
type Response struct {
	Code    int    `json:"code"`    // 业务状态码
	Data    any    `json:"data"`    // 响应数据
	Message string `json:"message"` // 响应消息
}

// HealthStatus 探活数据
type HealthStatus struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Rooms       int    `json:"rooms"`
}

// Success 创建成功响应
func Success(data any) *Response {
	return &Response{
		Code:    http.StatusOK,
		Data:    data,
		Message: "success",
	}
}

// Fail 创建失败响应
func Fail(code int, message string) *Response {
	return &Response{
		Code:    code,
		Message: message,
	}
}
