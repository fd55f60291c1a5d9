package zenoh

import "github.com/hsiuhsiu/zenoh-go-exp/pkg/zenoh/loopback"

var Version = "v0.0.0-in-progress"

// BindingVersion returns the semantic version populated at build time via
// ldflags. In development it defaults to v0.0.0-in-progress.
func BindingVersion() string {
	return Version
}

// EngineVersion returns the version string reported by the session's engine.
func (s *Session) EngineVersion() string {
	return s.eng.Version()
}

// DefaultEngineVersion returns the version of the engine Open uses when no
// engine is given.
func DefaultEngineVersion() string {
	return loopback.Default().Version()
}
