// Package mztest contains helpers shared by tests across the module.
package mztest

import (
	"log/slog"
	"testing"

	"github.com/neilotoole/slogt"
)

// NewLogger returns a text logger that writes through t.Log,
// so output is only shown for failing tests or with -v.
func NewLogger(t testing.TB) *slog.Logger {
	return slogt.New(t, slogt.Text())
}
