// Package palletd lets other programs embed the engine.
package palletd

import (
	"context"

	"palletizer-control/internal/tasks"
)

// Options re-exposes the tasks.Options type for external callers.
type Options = tasks.Options

// Run starts the engine with the given options using the internal tasks implementation.
func Run(ctx context.Context, opts Options) error {
	return tasks.InitAndRun(ctx, opts)
}
