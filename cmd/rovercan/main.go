package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/taoyao-code/rovercan/internal/app/bootstrap"
	cfgpkg "github.com/taoyao-code/rovercan/internal/config"
	"github.com/taoyao-code/rovercan/internal/logging"
)

func main() {
	// 1) 命令行参数与配置
	fs := cfgpkg.Flags()
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	cfg, err := cfgpkg.Load("", fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	// 2) 初始化日志
	base, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "init logger:", err)
		os.Exit(1)
	}
	logger := logging.ForNode(base, cfg.App.Role, cfg.Node.Address)
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	// 3) 运行
	if err := bootstrap.Run(cfg, logger); err != nil {
		logger.Error("rovercan exited with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}
