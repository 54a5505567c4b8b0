package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// InvocationLog represents a single dispatched invocation's outcome.
type InvocationLog struct {
	Timestamp  time.Time `json:"timestamp"`
	QID        string    `json:"qid"`
	Stage      string    `json:"stage"`
	SeqNum     int       `json:"seq_num"`
	ShuffleID  int       `json:"shuffle_id,omitempty"`
	TraceID    string    `json:"trace_id,omitempty"`
	SpanID     string    `json:"span_id,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Aggregator bool      `json:"aggregator,omitempty"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	InputBytes int       `json:"input_bytes"`
	OutputRows int64     `json:"output_rows,omitempty"`
}

// Logger handles invocation logging.
type Logger struct {
	mu      sync.Mutex
	enabled bool
	file    *os.File
	console bool
}

var defaultLogger = &Logger{enabled: true, console: true}

// Default returns the default logger.
func Default() *Logger {
	return defaultLogger
}

// SetOutput sets the log output file.
func (l *Logger) SetOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// SetConsole enables/disables console output.
func (l *Logger) SetConsole(enabled bool) {
	l.mu.Lock()
	l.console = enabled
	l.mu.Unlock()
}

// Log writes an invocation log entry.
func (l *Logger) Log(entry *InvocationLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	entry.Timestamp = time.Now()

	if l.console {
		status := "✓"
		if !entry.Success {
			status = "✗"
		}
		agg := ""
		if entry.Aggregator {
			agg = " [agg]"
		}
		fmt.Printf("[dispatch] %s %s seq=%d %s %dms%s\n",
			status, entry.Stage, entry.SeqNum, entry.QID, entry.DurationMs, agg)
		if entry.Error != "" {
			fmt.Printf("[dispatch]   error: %s\n", entry.Error)
		}
	}

	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
}

// Close closes the log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
