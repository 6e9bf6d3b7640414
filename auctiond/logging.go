package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"

	"github.com/m1guelpf/dollar-auction/core"
)

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      lvl,
		TimeFormat: time.DateTime,
	})), nil
}

// loggingObserver writes one log line per committed auction event.
type loggingObserver struct {
	log *slog.Logger
}

func (o loggingObserver) Observe(e core.Event) {
	attrs := []any{"auction", e.AuctionID}
	if !e.Account.IsEmpty() {
		attrs = append(attrs, "account", string(e.Account))
	}
	if !e.Amount.IsZero() {
		attrs = append(attrs, "amount", e.Amount.String())
	}
	if !e.Deadline.IsZero() {
		attrs = append(attrs, "deadline", e.Deadline.UTC().Format(time.RFC3339))
	}
	o.log.Info(strings.ReplaceAll(string(e.Kind), "_", " "), attrs...)
}
