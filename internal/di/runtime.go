package di

import (
	"MarketSync/internal/usecase"
	"MarketSync/pkg/logger"
)

// Runtime is the engine plus what a one-shot command needs to report and
// clean up.
type Runtime struct {
	Engine    *usecase.Engine
	Logger    *logger.Logger
	Resources *Resources
}

func (r *Runtime) Close() { r.Resources.CloseAll() }
