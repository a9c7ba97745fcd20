// utils/logger.go
package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

// LogSubsystem is the tag printed on every line written through this package.
const LogSubsystem = "NODE"

// Global verbose flag
var Verbose = true

var (
	logMutex   sync.RWMutex
	logBackend = btclog.NewBackend(os.Stdout)
	logger     = newLevelledLogger(logBackend, Verbose)

	// logRotator is nil unless InitLogRotator was called.
	logRotator *rotator.Rotator
	logPipe    *io.PipeWriter
)

func newLevelledLogger(backend *btclog.Backend, verbose bool) btclog.Logger {
	l := backend.Logger(LogSubsystem)
	if verbose {
		l.SetLevel(btclog.LevelDebug)
	} else {
		l.SetLevel(btclog.LevelInfo)
	}
	return l
}

// InitLogger rebuilds the package logger. A silent logger discards everything,
// which is what tests use to keep their output readable.
func InitLogger(verbose bool, silent bool) {
	logMutex.Lock()
	defer logMutex.Unlock()

	Verbose = verbose
	if silent {
		logger = btclog.Disabled
		return
	}
	logger = newLevelledLogger(logBackend, verbose)
}

// GetLogger returns the logger currently used by the Log* helpers.
func GetLogger() btclog.Logger {
	logMutex.RLock()
	defer logMutex.RUnlock()
	return logger
}

// SetLogger replaces the logger used by the Log* helpers.
func SetLogger(l btclog.Logger) {
	logMutex.Lock()
	defer logMutex.Unlock()
	logger = l
}

// InitLogRotator mirrors all log output into logDir/fileName, rolling the
// file once it grows beyond maxSizeKB and keeping at most maxFiles rolls.
func InitLogRotator(logDir, fileName string, maxSizeKB int64, maxFiles int) error {
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	r, err := rotator.New(filepath.Join(logDir, fileName), maxSizeKB, false, maxFiles)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		if err := r.Run(pr); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to run file rotator: %v\n", err)
		}
	}()

	logMutex.Lock()
	defer logMutex.Unlock()

	logRotator = r
	logPipe = pw
	logBackend = btclog.NewBackend(io.MultiWriter(os.Stdout, pw))
	logger = newLevelledLogger(logBackend, Verbose)
	return nil
}

// CloseLogRotator flushes and closes the log file, if one is open.
func CloseLogRotator() {
	logMutex.Lock()
	defer logMutex.Unlock()

	if logRotator == nil {
		return
	}
	_ = logPipe.Close()
	_ = logRotator.Close()
	logRotator = nil
	logPipe = nil

	logBackend = btclog.NewBackend(os.Stdout)
	logger = newLevelledLogger(logBackend, Verbose)
}

// LogInfo logs an info message
func LogInfo(format string, args ...interface{}) {
	GetLogger().Infof(format, args...)
}

// LogDebug logs a debug message if verbose mode is enabled
func LogDebug(format string, args ...interface{}) {
	GetLogger().Debugf(format, args...)
}

// LogWarn logs a warning
func LogWarn(format string, args ...interface{}) {
	GetLogger().Warnf(format, args...)
}

// LogError logs an error message
func LogError(format string, args ...interface{}) {
	GetLogger().Errorf(format, args...)
}

// SetVerbose sets the verbose logging mode
func SetVerbose(v bool) {
	logMutex.Lock()
	defer logMutex.Unlock()

	Verbose = v
	if v {
		logger.SetLevel(btclog.LevelDebug)
	} else {
		logger.SetLevel(btclog.LevelInfo)
	}
}

// GetVerbose returns the current verbose logging mode
func GetVerbose() bool {
	logMutex.RLock()
	defer logMutex.RUnlock()
	return Verbose
}

// PrintStartupMessage prints a formatted startup message
func PrintStartupMessage(nodeID string, role string, apiPort int, peerID string) {
	fmt.Println("---------------------------------------------------")
	fmt.Printf("| PoW Gossip Node Started                         |\n")
	fmt.Printf("| Node ID: %-38s |\n", nodeID)
	fmt.Printf("| Role: %-41s |\n", role)
	fmt.Printf("| Peer: %-41s |\n", shorten(peerID, 41))
	fmt.Printf("| API: %-42s |\n", fmt.Sprintf("HTTP Server (:%d)", apiPort))
	fmt.Println("---------------------------------------------------")
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
