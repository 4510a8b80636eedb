package telemetry

// Logger is the minimal logging surface the rest of the codebase depends on.
// *log.Logger satisfies it.
type Logger interface {
	Printf(format string, args ...any)
}
