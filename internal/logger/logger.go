package logger

import (
	"fmt"

	"go.uber.org/zap"
)

// New builds a production logger at the given level. encoding is "json"
// (default) or "console".
func New(verbosity string, encoding ...string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	level, err := zap.ParseAtomicLevel(verbosity)
	if err != nil {
		return nil, err
	}
	config.Level = level
	if len(encoding) > 0 && encoding[0] != "" {
		switch encoding[0] {
		case "json", "console":
			config.Encoding = encoding[0]
		default:
			return nil, fmt.Errorf("unknown log encoding %q", encoding[0])
		}
	}
	return config.Build()
}
