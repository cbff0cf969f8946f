package fixedpool

import "github.com/sirupsen/logrus"

// log is the package-level logger used by the upstream allocator and by
// Pool when no per-pool logger has been attached via WithLogger. Debug-only
// tracing (pool creation, slot births, upstream mmaps, Dump output) is gated
// behind logrus's own level check, so the production path pays for nothing
// more than an atomic read when debug logging is disabled.
var log = logrus.StandardLogger()

// SetLogger replaces the package-level logger used by pools that were not
// constructed with WithLogger. Intended for process wiring at startup, not
// for per-request use.
func SetLogger(l *logrus.Logger) {
	if l == nil {
		return
	}
	log = l
}
