package eduapi

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Logger is the minimal structured logging interface the pipeline writes to.
// Key/value pairs follow the message, alternating keys and values.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// SimpleLogger writes level-prefixed lines to stderr. Intended for debugging
// and examples; production callers supply their own Logger.
type SimpleLogger struct {
	l *log.Logger
}

// NewSimpleLogger creates a logger writing to stderr with timestamps.
func NewSimpleLogger() *SimpleLogger {
	return &SimpleLogger{
		l: log.New(os.Stderr, "eduapi ", log.LstdFlags|log.Lmicroseconds),
	}
}

func (s *SimpleLogger) Debug(msg string, keysAndValues ...any) { s.emit("DEBUG", msg, keysAndValues) }
func (s *SimpleLogger) Info(msg string, keysAndValues ...any)  { s.emit("INFO", msg, keysAndValues) }
func (s *SimpleLogger) Warn(msg string, keysAndValues ...any)  { s.emit("WARN", msg, keysAndValues) }
func (s *SimpleLogger) Error(msg string, keysAndValues ...any) { s.emit("ERROR", msg, keysAndValues) }

func (s *SimpleLogger) emit(level, msg string, kv []any) {
	var b strings.Builder
	b.WriteString(level)
	b.WriteByte(' ')
	b.WriteString(msg)
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(&b, " %v=%v", kv[i], kv[i+1])
	}
	if len(kv)%2 == 1 {
		fmt.Fprintf(&b, " %v=?", kv[len(kv)-1])
	}
	s.l.Print(b.String())
}

// DebugConfig selects which pipeline events get logged when debugging is
// enabled. Off by default; enable via WithDebug or WithSimpleLogger.
type DebugConfig struct {
	Enabled bool

	LogRequests    bool
	LogRetries     bool
	LogCredentials bool
	LogCrypto      bool
	LogCache       bool
	LogRateLimit   bool

	// RequestIDGen produces the per-call correlation ID included in log
	// lines and errors.
	RequestIDGen func() string
}

// DefaultDebugConfig returns a config with every event class enabled and
// short UUID request IDs.
func DefaultDebugConfig() *DebugConfig {
	return &DebugConfig{
		Enabled:        false,
		LogRequests:    true,
		LogRetries:     true,
		LogCredentials: true,
		LogCrypto:      true,
		LogCache:       true,
		LogRateLimit:   true,
		RequestIDGen:   shortRequestID,
	}
}

func shortRequestID() string {
	return uuid.NewString()[:8]
}
