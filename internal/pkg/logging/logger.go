// Package logging is a small leveled, structured logger in the teacher's
// idiom: one default logger, JSON or text output, fields passed as a map.
package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/config"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "INFO"
	}
}

type Logger struct {
	level  Level
	format string
	logger *log.Logger
}

type LogEntry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

var defaultLogger *Logger

// Init configures the package-level default logger from Config. Safe to call
// more than once (e.g. once per test process); the last call wins.
func Init(cfg *config.Config) {
	defaultLogger = &Logger{
		level:  parseLevel(cfg.Logging.Level),
		format: cfg.Logging.Format,
		logger: log.New(os.Stdout, "", 0),
	}
}

func parseLevel(levelStr string) Level {
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

func (l *Logger) log(level Level, message string, fields map[string]any) {
	if level < l.level {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     level.String(),
		Message:   message,
		Fields:    fields,
	}

	var output string
	if l.format == "json" {
		jsonData, _ := json.Marshal(entry)
		output = string(jsonData)
	} else {
		output = fmt.Sprintf("[%s] %s %s", entry.Timestamp, entry.Level, entry.Message)
		if len(fields) > 0 {
			fieldsStr, _ := json.Marshal(fields)
			output += fmt.Sprintf(" %s", fieldsStr)
		}
	}

	l.logger.Println(output)
}

func ensure() {
	if defaultLogger == nil {
		defaultLogger = &Logger{level: INFO, format: "text", logger: log.New(os.Stdout, "", 0)}
	}
}

func Debug(message string, fields ...map[string]any) {
	ensure()
	defaultLogger.log(DEBUG, message, first(fields))
}

func Info(message string, fields ...map[string]any) {
	ensure()
	defaultLogger.log(INFO, message, first(fields))
}

func Warn(message string, fields ...map[string]any) {
	ensure()
	defaultLogger.log(WARN, message, first(fields))
}

func Error(message string, err error, fields map[string]any) {
	ensure()
	if fields == nil {
		fields = make(map[string]any)
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	defaultLogger.log(ERROR, message, fields)
}

func first(fields []map[string]any) map[string]any {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}
