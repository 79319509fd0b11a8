package common

import (
	"log"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
)

// Log is the module-wide structured logger; package kv is the only
// package that logs through it. It is backed by the standard library
// logger through go-logr/stdr, so call sites only ever depend on the
// logr.Logger interface and stay agnostic of the concrete backend.
var Log logr.Logger = stdr.New(log.New(os.Stderr, "", log.LstdFlags))

func init() {
	stdr.SetVerbosity(1)
}

// WithName returns a logger scoped to the given component name, named
// after the calling package (package kv uses "kv").
func WithName(name string) logr.Logger {
	return Log.WithName(name)
}
