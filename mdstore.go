// Code scaffolded by goctl. Safe to edit.
// goctl 1.9.2

package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/rest"

	"mdstore/internal/cli"
	"mdstore/internal/config"
	"mdstore/internal/handler"
	"mdstore/internal/svc"
)

var configFile = flag.String("f", "etc/mdstore.yaml", "the config file")

func main() {
	flag.Parse()

	cfg := config.MustLoad(*configFile)
	cli.LogConfigSummary(cfg)

	server := rest.MustNewServer(cfg.RestConf)
	defer server.Stop()

	ctx := svc.NewServiceContext(*cfg)
	defer ctx.Notifier.Close()
	handler.RegisterHandlers(server, ctx)

	flushInterval := 5 * time.Second
	if cfg.Storage.Value != nil && cfg.Storage.Value.FlushInterval > 0 {
		flushInterval = cfg.Storage.Value.FlushInterval
	}
	bufCtx, stopBuffer := context.WithCancel(context.Background())
	defer stopBuffer()
	go ctx.Buffer.Run(bufCtx, flushInterval)

	fmt.Printf("Starting server at %s:%d...\n", cfg.Host, cfg.Port)
	server.Start()
}
