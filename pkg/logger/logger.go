// Package logger wraps logrus with the small set of decorative helpers
// (Banner, Section) and level-named free functions the rest of the module
// calls instead of reaching for logrus directly in application code.
package logger

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// ANSI color codes, used only by the decorative Banner/Section output below;
// level coloring itself is delegated to logrus' TextFormatter.
const (
	ColorReset = "\033[0m"
	ColorGreen = "\033[32m"
	ColorCyan  = "\033[36m"
)

var std = logrus.New()

func init() {
	std.SetOutput(os.Stdout)
	std.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})
	std.SetLevel(logrus.InfoLevel)
}

// Std returns the package's underlying *logrus.Logger so callers that need
// a *logrus.Entry (e.g. to attach request-scoped fields to a Host's Log)
// can derive one without importing logrus themselves.
func Std() *logrus.Logger { return std }

// SetLevel sets the minimum log level, accepting any logrus.Level name
// ("debug", "info", "warn", "error"); unrecognized names leave the level
// unchanged.
func SetLevel(level string) {
	if lvl, err := logrus.ParseLevel(level); err == nil {
		std.SetLevel(lvl)
	}
}

// ShowTime toggles the timestamp field in formatted output.
func ShowTime(show bool) {
	std.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:    show,
		DisableTimestamp: !show,
		TimestampFormat:  "15:04:05",
	})
}

// Debug logs a debug-level message.
func Debug(format string, args ...interface{}) { std.Debugf(format, args...) }

// Info logs an info-level message.
func Info(format string, args ...interface{}) { std.Infof(format, args...) }

// InfoCyan logs an info-level message tagged for a highlighted-event
// audience (connect/disconnect summaries, throughput milestones).
func InfoCyan(format string, args ...interface{}) {
	std.WithField("highlight", true).Infof(format, args...)
}

// Warn logs a warn-level message.
func Warn(format string, args ...interface{}) { std.Warnf(format, args...) }

// Error logs an error-level message.
func Error(format string, args ...interface{}) { std.Errorf(format, args...) }

// Success logs an info-level message tagged as a completed operation.
func Success(format string, args ...interface{}) {
	std.WithField("result", "success").Infof(format, args...)
}

// Fatal logs an error-level message and exits the process.
func Fatal(format string, args ...interface{}) {
	std.WithField("fatal", true).Errorf(format, args...)
	os.Exit(1)
}

// Section prints a section header directly to stdout, bypassing logrus'
// field formatting; purely a CLI/operator decoration, not a log line.
func Section(title string) {
	border := "═══════════════════════════════════════════════════════════"
	fmt.Printf("\n%s╔%s╗%s\n", ColorCyan, border, ColorReset)
	fmt.Printf("%s║%s %-57s %s║%s\n", ColorCyan, ColorReset, title, ColorCyan, ColorReset)
	fmt.Printf("%s╚%s╝%s\n\n", ColorCyan, border, ColorReset)
}

// Banner prints the application banner for the given program name and
// version.
func Banner(title, version string) {
	banner := `
╔═══════════════════════════════════════════════════════════╗
║                                                           ║
║   ██╗  ██╗███╗   ██╗███████╗████████╗                    ║
║   ██║  ██║████╗  ██║██╔════╝╚══██╔══╝                    ║
║   ███████║██╔██╗ ██║█████╗     ██║                       ║
║   ██╔══██║██║╚██╗██║██╔══╝     ██║                       ║
║   ██║  ██║██║ ╚████║███████╗   ██║                       ║
║   ╚═╝  ╚═╝╚═╝  ╚═══╝╚══════╝   ╚═╝                       ║
║                                                           ║
║              %s%-37s%s║
║                    %sVersion %-7s%s                      ║
║                                                           ║
╚═══════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, ColorCyan, title, ColorReset, ColorGreen, version, ColorReset)
}
