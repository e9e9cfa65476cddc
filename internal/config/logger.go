package config

import (
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger 按 log.level / log.format 创建日志器；级别无法解析时退回 info
func NewLogger(cfg LogConfig) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
