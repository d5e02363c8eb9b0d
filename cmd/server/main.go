// @title FrostGuard LoRaWAN Emulator API
// @version 1.0
// @description 模拟器会话控制、TTN 设备编排与上行 webhook
// @BasePath /
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
package main

import (
	"flag"
	"os"

	"go.uber.org/zap"

	_ "github.com/frostguard/lora-emulator/docs"
	"github.com/frostguard/lora-emulator/internal/app/bootstrap"
	cfgpkg "github.com/frostguard/lora-emulator/internal/config"
	"github.com/frostguard/lora-emulator/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "config file (defaults to $EMU_CONFIG or configs/example.yaml)")
	flag.Parse()

	// 1) 加载配置
	cfg, err := cfgpkg.Load(*configPath)
	if err != nil {
		panic(err)
	}

	// 2) 初始化日志
	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	// 3) 启动
	if err := bootstrap.Run(cfg, zap.L()); err != nil {
		zap.L().Error("emulator service exited", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}
