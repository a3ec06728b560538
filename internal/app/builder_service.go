package app

import (
	"fmt"

	"tradeagent/internal/config"
	livehttp "tradeagent/internal/transport/http/live"
)

func buildHTTPServer(cfg config.AppConfig, serverCfg livehttp.ServerConfig) (*livehttp.Server, error) {
	serverCfg.Addr = cfg.HTTPAddr
	server, err := livehttp.NewServer(serverCfg)
	if err != nil {
		return nil, fmt.Errorf("初始化 HTTP 失败: %w", err)
	}
	return server, nil
}
