package devctl

import (
	"sync"

	"go.uber.org/zap"
)

// The teacher logs through the bare log package (log.Printf/log.Println in
// minitouch.go, rotation.go, utils.go). This repository upgrades every one
// of those call sites — and every new one the runner/controller/driver
// need — to structured zap logging, the idiom the retrieval pack's
// device-automation-adjacent CLI uses (see DESIGN.md). No file rotation or
// multi-core tee is wired up: that belongs to a host application, not this
// library, so a single development-style console core is used.
var (
	loggerOnce sync.Once
	logger     *zap.Logger
)

func log() *zap.Logger {
	loggerOnce.Do(func() {
		l, err := zap.NewDevelopment()
		if err != nil {
			l = zap.NewNop()
		}
		logger = l.Named("devctl")
	})
	return logger
}

// SetLogger replaces the package logger, for a host application that wants
// its own zap core (e.g. JSON output, file rotation) instead of the
// development default.
func SetLogger(l *zap.Logger) {
	loggerOnce.Do(func() {})
	logger = l.Named("devctl")
}
