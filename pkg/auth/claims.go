package auth

import "github.com/golang-jwt/jwt/v5"

// Claims 令牌声明
//
// sub 与 exp 为必要声明，room 为可选声明。
// 解码后不可变，由准入层复制进会话上下文。
type Claims struct {
	// Room 可选的房间声明，缺失时使用默认房间
	Room string `json:"room,omitempty"`

	jwt.RegisteredClaims
}

// RoomID 返回声明的房间，缺失时返回默认房间 user:<sub>
func (c *Claims) RoomID() string {
	if c.Room != "" {
		return c.Room
	}
	return "user:" + c.Subject
}
