package llm

import (
	"log/slog"
	"os"
)

const (
	// EnvGogoMode is the environment variable name for mode selection.
	EnvGogoMode = "GOGO_MODE"
	// ModeMock indicates mock mode should be used.
	ModeMock = "MOCK"
)

// NewGateway creates a gateway based on the GOGO_MODE environment variable
// or the forceMock flag. Mock mode returns an echoing MockGateway.
func NewGateway(cfg Config, forceMock bool, logger *slog.Logger) Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if forceMock || os.Getenv(EnvGogoMode) == ModeMock {
		logger.Info("mock mode enabled, using mock model gateway")
		return NewMockGateway()
	}
	return NewOpenAIGateway(cfg, logger)
}
