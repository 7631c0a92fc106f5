// Package auditlog writes the daily append-only log described in
// spec.md §6: one file per day-of-year, mode 0600, one line per event.
package auditlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Level is one of the five log levels spec.md §6 defines.
type Level byte

const (
	Debug   Level = 'D'
	Info    Level = 'I'
	Data    Level = 'C' // config/data-file errors (§7)
	Warn    Level = 'W'
	ErrorLv Level = 'E'
)

var titleCaser = cases.Title(language.English)

// String renders a Level's long form for human-readable diagnostics
// (e.g. -v/-V output); the on-disk format always uses the single letter
// per spec.md §6.
func (l Level) String() string {
	names := map[Level]string{
		Debug: "debug", Info: "info", Data: "data", Warn: "warn", ErrorLv: "error",
	}
	return titleCaser.String(names[l])
}

// Logger writes to <dir>/sys.DDD, rotating automatically at day
// boundaries.
type Logger struct {
	dir string

	mu   sync.Mutex
	day  int
	file *os.File
}

// Open returns a Logger writing under dir.
func Open(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("auditlog: create %s: %w", dir, err)
	}
	return &Logger{dir: dir}, nil
}

func (l *Logger) fileFor(t time.Time) (*os.File, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	day := t.YearDay()
	if l.file != nil && l.day == day {
		return l.file, nil
	}
	if l.file != nil {
		l.file.Close()
	}
	path := filepath.Join(l.dir, fmt.Sprintf("sys.%03d", day))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("auditlog: open %s: %w", path, err)
	}
	l.file = f
	l.day = day
	return f, nil
}

// Log appends one line, formatted exactly as spec.md §6 specifies:
// `DD/MM/YYYY HH:MM:SS <L>: <message>`.
func (l *Logger) Log(level Level, format string, args ...any) {
	now := time.Now()
	f, err := l.fileFor(now)
	if err != nil {
		return // a logging failure must not abort the dispatcher
	}
	line := fmt.Sprintf("%s %c: %s\n", now.Format("02/01/2006 15:04:05"), level, fmt.Sprintf(format, args...))
	l.mu.Lock()
	f.WriteString(line)
	l.mu.Unlock()
}

func (l *Logger) Debugf(format string, args ...any) { l.Log(Debug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.Log(Info, format, args...) }
func (l *Logger) Dataf(format string, args ...any)  { l.Log(Data, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.Log(Warn, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.Log(ErrorLv, format, args...) }

// Close releases the current day's file handle.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
