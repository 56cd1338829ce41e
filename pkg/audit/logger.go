package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fleetup/fleetup/pkg/util"
)

// Logger defines the interface for audit logging backends
type Logger interface {
	Log(event *Event) error
	Query(filter Filter) ([]*Event, error)
	Close() error
}

// FileLogger appends audit events to a JSON-lines file. It is safe for
// concurrent use by all fleet workers.
type FileLogger struct {
	path     string
	file     *os.File
	encoder  *json.Encoder
	mu       sync.RWMutex
	rotation RotationConfig
}

// RotationConfig configures log file rotation
type RotationConfig struct {
	MaxSize    int64 // bytes before rotation
	MaxBackups int
}

// NewFileLogger opens (creating if needed) the audit log at path.
func NewFileLogger(path string, rotation RotationConfig) (*FileLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	return &FileLogger{
		path:     path,
		file:     file,
		encoder:  json.NewEncoder(file),
		rotation: rotation,
	}, nil
}

// Log writes an audit event to the log file
func (l *FileLogger) Log(event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rotation.MaxSize > 0 {
		if info, err := l.file.Stat(); err == nil && info.Size() >= l.rotation.MaxSize {
			if err := l.rotate(); err != nil {
				return fmt.Errorf("rotating audit log: %w", err)
			}
		}
	}
	return l.encoder.Encode(event)
}

// Query returns the logged events matching filter, oldest first.
func (l *FileLogger) Query(filter Filter) ([]*Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []*Event{}, nil
		}
		return nil, err
	}
	defer file.Close()

	var events []*Event
	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			util.Warnf("audit: skipping malformed log entry at line %d: %v", lineNum, err)
			continue
		}
		if filter.matches(&event) {
			events = append(events, &event)
		}
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(events) {
			events = nil
		} else {
			events = events[filter.Offset:]
		}
	}
	if filter.Limit > 0 && filter.Limit < len(events) {
		events = events[:filter.Limit]
	}
	return events, scanner.Err()
}

// Close closes the log file
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (f Filter) matches(event *Event) bool {
	switch {
	case f.Device != "" && event.Device != f.Device:
		return false
	case f.User != "" && event.User != f.User:
		return false
	case f.RunID != "" && event.RunID != f.RunID:
		return false
	case f.Operation != "" && event.Operation != f.Operation:
		return false
	case !f.StartTime.IsZero() && event.Timestamp.Before(f.StartTime):
		return false
	case !f.EndTime.IsZero() && event.Timestamp.After(f.EndTime):
		return false
	case f.SuccessOnly && !event.Success:
		return false
	case f.FailureOnly && event.Success:
		return false
	}
	return true
}

func (l *FileLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return err
	}
	rotatedPath := l.path + "." + time.Now().Format("20060102-150405.000000")
	if err := os.Rename(l.path, rotatedPath); err != nil {
		return err
	}
	file, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = file
	l.encoder = json.NewEncoder(file)

	if l.rotation.MaxBackups > 0 {
		l.cleanupOldFiles()
	}
	return nil
}

func (l *FileLogger) cleanupOldFiles() {
	matches, err := filepath.Glob(l.path + ".*")
	if err != nil || len(matches) <= l.rotation.MaxBackups {
		return
	}

	type fileInfo struct {
		path    string
		modTime time.Time
	}
	var files []fileInfo
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		files = append(files, fileInfo{path, info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].modTime.Equal(files[j].modTime) {
			return files[i].path < files[j].path
		}
		return files[i].modTime.Before(files[j].modTime)
	})
	for i := 0; i < len(files)-l.rotation.MaxBackups; i++ {
		os.Remove(files[i].path)
	}
}

// loggerHolder wraps a Logger so atomic.Value always stores the same concrete type.
type loggerHolder struct {
	logger Logger
}

var defaultLogger atomic.Value

// SetDefaultLogger sets the default audit logger; nil disables auditing.
func SetDefaultLogger(logger Logger) {
	defaultLogger.Store(loggerHolder{logger: logger})
}

func getDefaultLogger() Logger {
	v := defaultLogger.Load()
	if v == nil {
		return nil
	}
	return v.(loggerHolder).logger
}

// Log logs an event using the default logger
func Log(event *Event) error {
	l := getDefaultLogger()
	if l == nil {
		return nil
	}
	return l.Log(event)
}

// Record logs an event with the default logger. Failures to write the
// audit log are reported but never abort the device action.
func Record(event *Event) {
	if err := Log(event); err != nil {
		util.WithDevice(event.Device).Warnf("audit: %s not recorded: %v", event.Operation, err)
	}
}

// Query queries events from the default logger
func Query(filter Filter) ([]*Event, error) {
	l := getDefaultLogger()
	if l == nil {
		return []*Event{}, nil
	}
	return l.Query(filter)
}
