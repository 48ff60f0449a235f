package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken 令牌无效（签名错误或结构异常）
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrExpiredToken 令牌已过期
	ErrExpiredToken = errors.New("auth: token has expired")
	// ErrMissingSubject 缺少 sub 声明
	ErrMissingSubject = errors.New("auth: missing subject claim")
	// ErrMissingExpiration 缺少 exp 声明
	ErrMissingExpiration = errors.New("auth: missing expiration claim")
)

// defaultLeeway 时钟偏移容忍
const defaultLeeway = 60 * time.Second

// Verifier 令牌校验器
//
// 仅消费外部身份服务签发的 HMAC 令牌，不负责签发。
type Verifier struct {
	secret []byte
	leeway time.Duration
}

// VerifierOption 校验器选项
type VerifierOption func(*Verifier)

// WithLeeway 设置时钟偏移容忍
func WithLeeway(leeway time.Duration) VerifierOption {
	return func(v *Verifier) {
		v.leeway = leeway
	}
}

// NewVerifier 创建校验器
func NewVerifier(secret string, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		secret: []byte(secret),
		leeway: defaultLeeway,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify 校验令牌并返回声明
//
// 校验内容：HMAC 签名、exp 在未来（含 leeway）、sub 非空。
// 任何失败返回 ErrInvalidToken / ErrExpiredToken / ErrMissing* 错误。
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		// 只接受 HMAC 签名，防止算法混淆攻击
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	}, jwt.WithLeeway(v.leeway), jwt.WithExpirationRequired())

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		if errors.Is(err, jwt.ErrTokenRequiredClaimMissing) {
			return nil, ErrMissingExpiration
		}
		return nil, ErrInvalidToken
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}

	return claims, nil
}
