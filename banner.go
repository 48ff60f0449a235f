package uchat

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/gin-gonic/gin"
)

// Version 网关版本号
const Version = "0.3.0"

// banner ASCII Art
const banner = `
██╗   ██╗       ██████╗██╗  ██╗ █████╗ ████████╗
██║   ██║      ██╔════╝██║  ██║██╔══██╗╚══██╔══╝   U-Chat 实时消息网关
██║   ██║█████╗██║     ███████║███████║   ██║      房间级 WebSocket 广播 | 令牌准入 | 有界扇出
╚██████╔╝╚════╝╚██████╗██║  ██║██║  ██║   ██║      ws: %s
 ╚═════╝        ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝      version: %s
`

// printBanner 打印启动 banner 和路由表
func (g *Gateway) printBanner(addr string) {
	out := os.Stdout

	// 拼接访问地址
	var open string
	if strings.HasPrefix(addr, ":") {
		open = "ws://127.0.0.1" + addr + "/ws"
	} else {
		open = "ws://" + addr + "/ws"
	}

	fPrint(out, banner, open, Version)
	fPrint(out, "\n")

	routes := g.engine.Routes()
	if len(routes) > 0 {
		printRoutes(out, routes, g.mode)
		fPrint(out, "\n")
	}

	if g.mode == gin.DebugMode {
		fPrint(out, "[U-Chat] Running in \"%s\" mode. Switch to \"release\" mode in production.\n", g.mode)
	} else {
		fPrint(out, "[U-Chat] Running in \"%s\" mode.\n", g.mode)
	}

	fPrint(out, "[U-Chat] Go version: %s | OS: %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fPrint(out, "[U-Chat] Listening on %s\n", addr)
}

// methodColor 根据 HTTP 方法返回 ANSI 颜色码
func methodColor(method string) string {
	switch method {
	case "GET":
		return "\033[34m" // 蓝色
	case "POST":
		return "\033[32m" // 绿色
	case "DELETE":
		return "\033[31m" // 红色
	default:
		return "\033[0m"
	}
}

const resetColor = "\033[0m"

// printRoutes 格式化打印路由表
func printRoutes(out io.Writer, routes gin.RoutesInfo, mode string) {
	maxPathLen := 0
	for _, r := range routes {
		if len(r.Path) > maxPathLen {
			maxPathLen = len(r.Path)
		}
	}

	for _, r := range routes {
		fPrint(out, "[U-Chat-%s] %s %-7s %s %-*s --> %s\n",
			mode,
			methodColor(r.Method), r.Method, resetColor,
			maxPathLen, r.Path,
			r.Handler)
	}
}

// silenceGin 静默 Gin 的默认输出
func silenceGin() {
	gin.DefaultWriter = io.Discard
	gin.DefaultErrorWriter = io.Discard
}

// fPrint 打印到 writer，忽略错误（banner 输出场景）
func fPrint(out io.Writer, format string, a ...any) {
	_, _ = fmt.Fprintf(out, format, a...)
}
