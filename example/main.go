package main

import (
	"context"
	"flag"
	"log"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	uchat "github.com/BronBron-Commits/U-chat"
	"github.com/BronBron-Commits/U-chat/pkg/config"
)

func main() {
	configFile := flag.String("config", "", "配置文件路径，空则只读环境变量")
	flag.Parse()

	// 回调注册在网关装配之前，文件变更可能先到，用原子指针兜底
	var gw atomic.Pointer[uchat.Gateway]

	opts := []config.Option{
		config.WithOnReload(func(c *config.Config) {
			if g := gw.Load(); g != nil {
				g.ApplyConfig(c)
			}
		}),
		config.WithOnError(func(err error) {
			log.Printf("配置热更新失败，沿用旧配置: %v", err)
		}),
	}
	if *configFile != "" {
		opts = append(opts, config.WithConfigFile(*configFile))
	}

	manager, err := config.Load(opts...)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	defer manager.Close()

	gateway, err := uchat.New(manager.Current(), uchat.WithMode(gin.DebugMode))
	if err != nil {
		log.Fatalf("装配网关失败: %v", err)
	}
	gw.Store(gateway)

	if err := gateway.Run(context.Background()); err != nil {
		log.Fatalf("网关退出: %v", err)
	}
}
