package notify

import (
	"log/slog"
	"sync"

	"github.com/rl1809/game-shelf/internal/port"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelWarning Level = "warning"
	LevelInfo    Level = "info"
)

var _ port.Notifier = (*LogNotifier)(nil)

// LogNotifier writes every notification as a structured log record.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With(slog.String("component", "notify"))}
}

func (n *LogNotifier) Success(message string) {
	n.logger.Info(message, slog.String("notification", string(LevelSuccess)))
}

func (n *LogNotifier) Error(message string) {
	n.logger.Error(message, slog.String("notification", string(LevelError)))
}

func (n *LogNotifier) Warning(message string) {
	n.logger.Warn(message, slog.String("notification", string(LevelWarning)))
}

func (n *LogNotifier) Info(message string) {
	n.logger.Info(message, slog.String("notification", string(LevelInfo)))
}

// Fanout delivers each notification to every sink in order.
type Fanout struct {
	mu    sync.RWMutex
	sinks []port.Notifier
}

func NewFanout(sinks ...port.Notifier) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		f.Add(s)
	}
	return f
}

func (f *Fanout) Add(s port.Notifier) {
	if s == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, s)
}

func (f *Fanout) Success(message string) { f.each(func(s port.Notifier) { s.Success(message) }) }
func (f *Fanout) Error(message string)   { f.each(func(s port.Notifier) { s.Error(message) }) }
func (f *Fanout) Warning(message string) { f.each(func(s port.Notifier) { s.Warning(message) }) }
func (f *Fanout) Info(message string)    { f.each(func(s port.Notifier) { s.Info(message) }) }

func (f *Fanout) each(fn func(port.Notifier)) {
	f.mu.RLock()
	sinks := append([]port.Notifier(nil), f.sinks...)
	f.mu.RUnlock()
	for _, s := range sinks {
		fn(s)
	}
}
