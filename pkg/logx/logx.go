// Package logx provides leveled, component-tagged logging with domain-filtered debug output.
//
// Lines look like:
//
//	[2025-01-02T15:04:05.000Z] [circuit] INFO: anthropic opened
//	[2025-01-02T15:04:05.000Z] [agent-1] DEBUG: [retry] attempt 1 failed
//
// Debug output is off unless DEBUG=1 (or SetDebug). DEBUG_DOMAINS=retry,circuit
// restricts package-level Debug calls to the named domains.
package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level orders log severities.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

const (
	timestampFormat = "2006-01-02T15:04:05.000Z"
	recentCapacity  = 512
)

// Entry is one emitted line as kept in the recent-lines ring.
type Entry struct {
	Time      time.Time `json:"time"`
	Component string    `json:"component"`
	Domain    string    `json:"domain,omitempty"`
	Message   string    `json:"message"`
	Level     Level     `json:"level"`
}

// sink is the process-wide destination and debug filter.
type sink struct {
	mu      sync.Mutex
	out     io.Writer // nil = os.Stderr
	debug   bool
	domains map[string]bool // nil = every domain
	recent  []Entry
	next    int
	wrapped bool
	now     func() time.Time
}

//nolint:gochecknoglobals // process-wide logging configuration
var std = newSink()

func newSink() *sink {
	s := &sink{recent: make([]Entry, recentCapacity), now: time.Now}
	if v := os.Getenv("DEBUG"); v == "1" || strings.EqualFold(v, "true") {
		s.debug = true
	}
	if v := os.Getenv("DEBUG_DOMAINS"); v != "" {
		s.domains = domainSet(strings.Split(v, ","))
	}
	return s
}

func domainSet(domains []string) map[string]bool {
	set := make(map[string]bool, len(domains))
	for _, d := range domains {
		if d = strings.TrimSpace(d); d != "" {
			set[d] = true
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

func (s *sink) enabled(domain string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.debug {
		return false
	}
	return domain == "" || s.domains == nil || s.domains[domain]
}

func (s *sink) emit(level Level, component, domain, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := Entry{Time: s.now().UTC(), Component: component, Domain: domain, Message: msg, Level: level}
	s.recent[s.next] = e
	s.next = (s.next + 1) % len(s.recent)
	if s.next == 0 {
		s.wrapped = true
	}

	w := s.out
	if w == nil {
		w = os.Stderr
	}
	if domain != "" {
		msg = "[" + domain + "] " + msg
	}
	_, _ = fmt.Fprintf(w, "[%s] [%s] %s: %s\n", e.Time.Format(timestampFormat), component, level, msg)
}

// snapshot returns ring contents oldest first.
func (s *sink) snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.wrapped {
		return append([]Entry(nil), s.recent[:s.next]...)
	}
	out := make([]Entry, 0, len(s.recent))
	out = append(out, s.recent[s.next:]...)
	return append(out, s.recent[:s.next]...)
}

// Options configures the process-wide logger in one call.
type Options struct {
	Output       io.Writer // nil keeps the current output
	Debug        bool
	DebugDomains []string // empty = every domain
}

// Configure applies opts.
func Configure(opts Options) {
	std.mu.Lock()
	defer std.mu.Unlock()
	if opts.Output != nil {
		std.out = opts.Output
	}
	std.debug = opts.Debug
	std.domains = domainSet(opts.DebugDomains)
}

// SetOutput redirects all log output. Passing nil restores stderr.
func SetOutput(w io.Writer) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.out = w
}

// SetDebug turns debug output on or off.
func SetDebug(enabled bool) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.debug = enabled
}

// SetDebugDomains restricts domain debug output. Empty re-enables every domain.
func SetDebugDomains(domains []string) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.domains = domainSet(domains)
}

// DebugEnabled reports whether Debug output for domain would be written.
// The empty domain asks about debug output in general.
func DebugEnabled(domain string) bool { return std.enabled(domain) }

// Recent returns buffered lines, oldest first. A non-empty domain keeps lines of
// that domain plus undomained lines; a non-zero since drops older lines.
func Recent(domain string, since time.Time) []Entry {
	all := std.snapshot()
	out := all[:0]
	for i := range all {
		e := &all[i]
		if domain != "" && e.Domain != "" && !strings.EqualFold(e.Domain, domain) {
			continue
		}
		if !since.IsZero() && e.Time.Before(since) {
			continue
		}
		out = append(out, *e)
	}
	return out
}

// Logger writes lines tagged with one component.
type Logger struct {
	component string
}

// NewLogger returns a logger for component.
func NewLogger(component string) *Logger {
	return &Logger{component: component}
}

// Component returns the tag this logger writes.
func (l *Logger) Component() string { return l.component }

// Debug writes only when debug output is on.
func (l *Logger) Debug(format string, args ...any) {
	if std.enabled("") {
		std.emit(LevelDebug, l.component, "", fmt.Sprintf(format, args...))
	}
}

func (l *Logger) Info(format string, args ...any) {
	std.emit(LevelInfo, l.component, "", fmt.Sprintf(format, args...))
}

func (l *Logger) Warn(format string, args ...any) {
	std.emit(LevelWarn, l.component, "", fmt.Sprintf(format, args...))
}

func (l *Logger) Error(format string, args ...any) {
	std.emit(LevelError, l.component, "", fmt.Sprintf(format, args...))
}

type componentKey struct{}

// WithComponent tags ctx so package-level Debug lines name the caller.
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey{}, component)
}

func componentFrom(ctx context.Context) string {
	if ctx != nil {
		if c, ok := ctx.Value(componentKey{}).(string); ok && c != "" {
			return c
		}
	}
	return "unknown"
}

// Debug writes a domain debug line, taking the component from ctx.
func Debug(ctx context.Context, domain, format string, args ...any) {
	if !std.enabled(domain) {
		return
	}
	std.emit(LevelDebug, componentFrom(ctx), domain, fmt.Sprintf(format, args...))
}

// DebugState writes a state transition for domain.
func DebugState(ctx context.Context, domain, from, to string) {
	Debug(ctx, domain, "State %s -> %s", from, to)
}
