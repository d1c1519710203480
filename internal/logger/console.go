// Package logger provides leveled, color-aware logging for the factory
// orchestrator and its collaborators.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"ralph/internal/models"
)

const (
	levelDebug int = 0
	levelInfo  int = 1
	levelWarn  int = 2
	levelError int = 3
)

// ConsoleLogger writes timestamped, leveled messages to a writer, with
// ANSI color when the writer is a TTY.
type ConsoleLogger struct {
	writer   io.Writer
	logLevel string
	mutex    sync.Mutex
}

// New builds a ConsoleLogger writing to w at the given minimum level
// ("debug", "info", "warn", "error"; defaults to "info").
func New(w io.Writer, level string) *ConsoleLogger {
	return &ConsoleLogger{writer: w, logLevel: normalizeLevel(level)}
}

func normalizeLevel(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "info", "warn", "error":
		return strings.ToLower(level)
	default:
		return "info"
	}
}

func levelToInt(level string) int {
	switch level {
	case "debug":
		return levelDebug
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

func (cl *ConsoleLogger) shouldLog(level string) bool {
	return levelToInt(level) >= levelToInt(cl.logLevel)
}

func (cl *ConsoleLogger) isColor() bool {
	f, ok := cl.writer.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

func (cl *ConsoleLogger) Debug(format string, args ...interface{}) { cl.log("debug", format, args...) }
func (cl *ConsoleLogger) Info(format string, args ...interface{})  { cl.log("info", format, args...) }
func (cl *ConsoleLogger) Warn(format string, args ...interface{})  { cl.log("warn", format, args...) }
func (cl *ConsoleLogger) Error(format string, args ...interface{}) { cl.log("error", format, args...) }

func (cl *ConsoleLogger) log(level, format string, args ...interface{}) {
	if cl.writer == nil || !cl.shouldLog(level) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := time.Now().Format("15:04:05")
	message := fmt.Sprintf(format, args...)
	levelTag := strings.ToUpper(level)

	var line string
	if cl.isColor() {
		line = fmt.Sprintf("[%s] [%s] %s\n", ts, colorForLevel(level).Sprint(levelTag), message)
	} else {
		line = fmt.Sprintf("[%s] [%s] %s\n", ts, levelTag, message)
	}
	cl.writer.Write([]byte(line))
}

func colorForLevel(level string) *color.Color {
	switch level {
	case "debug":
		return color.New(color.FgCyan)
	case "warn":
		return color.New(color.FgYellow)
	case "error":
		return color.New(color.FgRed)
	default:
		return color.New(color.FgBlue)
	}
}

// TaskAssigned logs a task's dispatch to a worker and slot (spec §4.I).
func (cl *ConsoleLogger) TaskAssigned(taskID, workerID string, slot models.ProviderSlot) {
	cl.Info("assigned %s -> worker %s on %s (tier %s)", taskID, workerID, slot.Key(), slot.Tier)
}

// TaskResult logs a worker's outcome.
func (cl *ConsoleLogger) TaskResult(result models.WorkerResult) {
	switch {
	case result.RateLimited:
		cl.Warn("%s rate limited on %s, requeueing", result.TaskID, result.Slot.Key())
	case result.Success:
		cl.Info("%s completed by worker %s (%s) in %s", result.TaskID, result.WorkerID, result.CommitHash, result.Duration.Round(time.Millisecond))
	default:
		cl.Warn("%s failed: %s", result.TaskID, result.Error)
	}
}

// Merge logs a cherry-pick outcome.
func (cl *ConsoleLogger) Merge(taskID string, success, conflict bool, err string) {
	switch {
	case success:
		cl.Info("merged %s onto trunk", taskID)
	case conflict:
		cl.Warn("merge conflict on %s, requeueing", taskID)
	default:
		cl.Warn("merge failed on %s: %s", taskID, err)
	}
}

// Summary logs the final execution summary on shutdown.
func (cl *ConsoleLogger) Summary(s models.ExecutionSummary) {
	cl.Info("done: %d completed, %d merged, %d conflicts, %d workers used, %s elapsed",
		s.TasksCompleted, s.MergesSucceeded, s.MergeConflicts, s.WorkersUsed, s.Duration.Round(time.Second))
	if len(s.SlotsInBackoff) > 0 {
		cl.Warn("slots still in backoff at exit: %s", strings.Join(s.SlotsInBackoff, ", "))
	}
}
