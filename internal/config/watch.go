package config

import (
	"fmt"
	"path/filepath"

	"tradeagent/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watch 监听配置文件变化，重新加载成功后回调 onChange；加载失败保留旧配置。
func Watch(path string, onChange func(*Config)) error {
	if onChange == nil {
		return fmt.Errorf("config watch requires a callback")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	v := viper.New()
	v.SetConfigFile(abs)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config file failed (%s): %w", abs, err)
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) {
			return
		}
		cfg, err := Load(abs)
		if err != nil {
			logger.Errorf("config reload failed (%s): %v", evt.Name, err)
			return
		}
		logger.Infof("config reloaded from %s", evt.Name)
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

// ApplyLogLevel 是最常用的热更新回调：只调整日志级别。
func ApplyLogLevel(cfg *Config) {
	if cfg == nil {
		return
	}
	logger.SetLevel(cfg.App.LogLevel)
}
