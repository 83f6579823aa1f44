package infra

import (
	"fmt"

	"go.uber.org/zap"
)

// NewLogger builds the zap logger described by cfg.
func NewLogger(cfg LoggerConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	switch cfg.Format {
	case "console":
		zcfg = zap.NewDevelopmentConfig()
	case "json", "":
		zcfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("logger: unknown format %q", cfg.Format)
	}

	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("logger: %w", err)
		}
		zcfg.Level = level
	}

	return zcfg.Build()
}
