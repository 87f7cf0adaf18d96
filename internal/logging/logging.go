// Package logging wires up structured logging for the mapper. Debug-log
// namespaces are process-wide atomic levels, not protocol state — toggling
// one never affects anything a BiDi client can observe.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Namespace groups log statements the way the mapper's subsystems are
// organized, independent of package boundaries.
type Namespace string

const (
	NamespaceCDP     Namespace = "cdp"
	NamespaceBiDi    Namespace = "bidi"
	NamespaceNetwork Namespace = "network"
	NamespaceTarget  Namespace = "target"
	NamespaceAdmin   Namespace = "admin"
)

var (
	mu     sync.Mutex
	levels = map[Namespace]*zap.AtomicLevel{}
	base   *zap.Logger
)

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	base = l
}

// SetBase replaces the root logger (e.g. to install a development config).
func SetBase(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	base = l
}

// SetLevel sets the minimum level for a namespace; logs below it are
// dropped cheaply via the core's level check.
func SetLevel(ns Namespace, level zapcore.Level) {
	mu.Lock()
	defer mu.Unlock()
	al, ok := levels[ns]
	if !ok {
		a := zap.NewAtomicLevelAt(level)
		levels[ns] = &a
		return
	}
	al.SetLevel(level)
}

// For returns a logger scoped to ns and component, respecting the
// namespace's current level.
func For(ns Namespace, component string) *zap.Logger {
	mu.Lock()
	al, ok := levels[ns]
	mu.Unlock()

	logger := base.Named(string(ns)).With(zap.String("component", component))
	if !ok {
		return logger
	}
	if !al.Enabled(zapcore.DebugLevel) {
		return logger.WithOptions(zap.IncreaseLevel(al.Level()))
	}
	return logger
}
