// Package runtime provides panic-safe goroutine helpers. Background work
// (launcher apps, fire-and-forget sends) runs through SafeGo so a panic in
// one goroutine is logged with its stack instead of killing the process.
package runtime

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/mysverse/worker-bank/pkg/commons/log"
)

// PanicPolicy decides what happens after a recovered panic is logged.
type PanicPolicy int

const (
	// KeepRunning swallows the panic after logging it.
	KeepRunning PanicPolicy = iota
	// CrashOnPanic re-raises the panic after logging it.
	CrashOnPanic
)

// LogPanicWithStack logs a recovered panic value with its stack trace.
// Tolerates a nil logger.
func LogPanicWithStack(ctx context.Context, logger log.Logger, component, name string, recovered any) {
	if logger == nil {
		return
	}

	logger.Log(ctx, log.LevelError, "panic recovered",
		log.String("component", component),
		log.String("goroutine", name),
		log.Err(handlePanicValue(recovered)),
		log.String("stack", string(debug.Stack())),
	)
}

// RecoverWithPolicyAndContext is the deferred half of SafeGo. It recovers,
// logs, and then either swallows or re-raises according to policy.
func RecoverWithPolicyAndContext(ctx context.Context, logger log.Logger, component, name string, policy PanicPolicy) {
	recovered := recover()
	if recovered == nil {
		return
	}

	LogPanicWithStack(ctx, logger, component, name, recovered)

	if policy == CrashOnPanic {
		panic(recovered)
	}
}

// SafeGoWithContextAndComponent runs fn on a new goroutine with panic
// recovery attached.
func SafeGoWithContextAndComponent(ctx context.Context, logger log.Logger, component, name string, policy PanicPolicy, fn func(ctx context.Context)) {
	go func() {
		defer RecoverWithPolicyAndContext(ctx, logger, component, name, policy)

		fn(ctx)
	}()
}

func handlePanicValue(recovered any) error {
	if err, ok := recovered.(error); ok {
		return err
	}

	return fmt.Errorf("panic: %v", recovered)
}
