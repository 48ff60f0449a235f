package ws

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BronBron-Commits/U-chat/pkg/auth"
	"github.com/BronBron-Commits/U-chat/pkg/errors"
	"github.com/BronBron-Commits/U-chat/pkg/ratelimit"
)

// SubprotocolBearer 子协议标记
//
// 浏览器的 WebSocket API 无法设置 Authorization 头，
// 客户端通过 new WebSocket(url, ["bearer", "<token>"]) 携带凭证。
const SubprotocolBearer = "bearer"

// SessionContext 准入通过后的会话上下文
type SessionContext struct {
	ConnID      string    // 连接标识
	Identity    string    // 身份（令牌 sub 声明）
	RoomID      string    // 分配的房间
	SourceIP    string    // 来源 IP
	ConnectedAt time.Time // 准入时间
}

// Gate 准入闸门
//
// 升级完成前按顺序执行检查，任何一步失败立即短路：
// Origin 白名单、IP 限流、凭证提取、令牌校验、身份限流。
// 所有拒绝对外统一表现为 403，内部错误码区分具体原因。
type Gate struct {
	allowedOrigins map[string]struct{}
	verifier       *auth.Verifier
	limiter        *ratelimit.Limiter
}

// NewGate 创建准入闸门
func NewGate(allowedOrigins []string, verifier *auth.Verifier, limiter *ratelimit.Limiter) *Gate {
	whitelist := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		whitelist[origin] = struct{}{}
	}
	return &Gate{
		allowedOrigins: whitelist,
		verifier:       verifier,
		limiter:        limiter,
	}
}

// Admit 执行准入检查
//
// 通过时返回会话上下文，失败时返回带内部错误码的 *errors.Error。
func (g *Gate) Admit(r *http.Request) (*SessionContext, *errors.Error) {
	// 1. Origin 检查：缺失 Origin 的非浏览器客户端放行，
	//    带 Origin 的请求必须精确命中白名单
	if origin := r.Header.Get("Origin"); origin != "" {
		if !g.originAllowed(origin) {
			return nil, errors.ErrForbiddenOrigin
		}
	}

	// 2. 来源 IP 限流，独立于身份
	ip := clientIP(r)
	if !g.limiter.Allow(r.Context(), ratelimit.ChannelConnIP, ip) {
		return nil, errors.ErrRateLimited
	}

	// 3. 从子协议协商提取凭证（不接受 URL 参数和 Cookie）
	token := extractBearerToken(r.Header.Get("Sec-WebSocket-Protocol"))
	if token == "" {
		return nil, errors.ErrUnauthenticated
	}

	// 4. 令牌校验
	claims, err := g.verifier.Verify(token)
	if err != nil {
		return nil, errors.ErrInvalidToken.WithError(err)
	}

	// 5. 身份限流，独立分桶，防止单账号跨多 IP 的分布式滥用
	if !g.limiter.Allow(r.Context(), ratelimit.ChannelConnIdentity, claims.Subject) {
		return nil, errors.ErrRateLimited
	}

	return &SessionContext{
		ConnID:      uuid.NewString(),
		Identity:    claims.Subject,
		RoomID:      claims.RoomID(),
		SourceIP:    ip,
		ConnectedAt: time.Now(),
	}, nil
}

// originAllowed 检查 Origin 是否允许
//
// 白名单为空时放行所有来源（部署在可信内网或由反向代理兜底时使用）。
func (g *Gate) originAllowed(origin string) bool {
	if len(g.allowedOrigins) == 0 {
		return true
	}
	_, ok := g.allowedOrigins[origin]
	return ok
}

// extractBearerToken 从 Sec-WebSocket-Protocol 头提取凭证
//
// 支持两种格式：
//  1. "bearer, <token>" —— 浏览器 WebSocket API 的标准形式
//  2. "<token>" —— 非浏览器客户端直接携带
func extractBearerToken(header string) string {
	parts := strings.Split(header, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	if len(parts) >= 2 && strings.EqualFold(parts[0], SubprotocolBearer) {
		return parts[1]
	}
	if len(parts) == 1 && parts[0] != "" && !strings.EqualFold(parts[0], SubprotocolBearer) {
		return parts[0]
	}
	return ""
}

// clientIP 提取来源 IP
//
// 优先级：X-Forwarded-For 首个地址 > X-Real-IP > RemoteAddr。
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, ok := strings.Cut(xff, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(xff)
	}
	if rip := r.Header.Get("X-Real-IP"); rip != "" {
		return rip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
