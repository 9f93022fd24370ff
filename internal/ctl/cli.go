package ctl

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Main is the stripctl entry point. Interrupts cancel the command context so
// a running extraction unwinds through its normal cancellation path.
func Main() {
	cfg := &Config{LogLvl: envStr("STRIPCTL_LOG_LEVEL", "info")}
	root := buildRootCmdWith(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		errl("%s", err.Error())
		os.Exit(1)
	}
}
