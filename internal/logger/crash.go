// Package logger records crash reports for the triagewing CLI.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
)

const (
	// CrashLogDir is the directory for crash logs relative to the base path.
	CrashLogDir = "crash_logs"

	// MaxCrashLogs is the maximum number of crash logs to keep.
	MaxCrashLogs = 10

	crashPrefix = "crash_"
	crashSuffix = ".log"
)

// fs is swapped for an in-memory filesystem in tests.
var fs afero.Fs = afero.NewOsFs()

type crashState struct {
	mu        sync.RWMutex
	basePath  string
	version   string
	command   string
	inputFile string
	batchID   string
}

var state = &crashState{}

// SetBasePath sets the directory crash logs are written under (typically ~/.triagewing).
func SetBasePath(path string) {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.basePath = path
}

// SetVersion sets the application version for crash logs.
func SetVersion(version string) {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.version = version
}

// SetCommand sets the current command line.
func SetCommand(cmd string) {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.command = cmd
}

// SetBatch records the findings file and batch being validated.
func SetBatch(inputFile, batchID string) {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.inputFile = inputFile
	state.batchID = batchID
}

// CrashLog is one crash report.
type CrashLog struct {
	Timestamp  time.Time
	Version    string
	Command    string
	InputFile  string
	BatchID    string
	PanicValue string
	StackTrace string
}

// HandlePanic recovers a panic, writes a crash log and exits with status 1.
// Usage: defer logger.HandlePanic()
func HandlePanic() {
	r := recover()
	if r == nil {
		return
	}

	path, err := Record(r, debug.Stack())
	if err != nil {
		fmt.Fprintf(os.Stderr, "\n[CRASH] Failed to write crash log: %v\n", err)
		fmt.Fprintf(os.Stderr, "[CRASH] Panic: %v\n%s\n", r, debug.Stack())
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "\ntriagewing crashed: %v\n", r)
	fmt.Fprintf(os.Stderr, "A crash log has been saved to:\n  %s\n\n", path)
	os.Exit(1)
}

// Record writes a crash log for panicValue and returns its path.
func Record(panicValue any, stack []byte) (string, error) {
	state.mu.RLock()
	log := CrashLog{
		Timestamp:  time.Now(),
		Version:    state.version,
		Command:    state.command,
		InputFile:  state.inputFile,
		BatchID:    state.batchID,
		PanicValue: fmt.Sprintf("%v", panicValue),
		StackTrace: string(stack),
	}
	state.mu.RUnlock()

	dir := crashLogDir()
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create crash log dir: %w", err)
	}

	// Leave room for the new log.
	if err := pruneCrashLogs(dir, MaxCrashLogs-1); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] Failed to clean old crash logs: %v\n", err)
	}

	path := filepath.Join(dir, crashPrefix+log.Timestamp.Format("20060102_150405.000")+crashSuffix)
	if err := afero.WriteFile(fs, path, []byte(formatCrashLog(log)), 0o644); err != nil {
		return "", fmt.Errorf("write crash log: %w", err)
	}
	return path, nil
}

func crashLogDir() string {
	state.mu.RLock()
	base := state.basePath
	state.mu.RUnlock()

	if base == "" {
		base = ".triagewing"
	}
	return filepath.Join(base, CrashLogDir)
}

func formatCrashLog(log CrashLog) string {
	rule := strings.Repeat("-", 80)

	var sb strings.Builder
	sb.WriteString("TRIAGEWING CRASH LOG\n")
	sb.WriteString(rule + "\n")
	fmt.Fprintf(&sb, "Timestamp: %s\n", log.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&sb, "Version:   %s\n", log.Version)
	fmt.Fprintf(&sb, "Command:   %s\n", log.Command)
	fmt.Fprintf(&sb, "Go:        %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	if log.InputFile != "" {
		fmt.Fprintf(&sb, "Findings:  %s\n", log.InputFile)
	}
	if log.BatchID != "" {
		fmt.Fprintf(&sb, "Batch:     %s\n", log.BatchID)
	}
	sb.WriteString(rule + "\n")
	fmt.Fprintf(&sb, "panic: %s\n\n", log.PanicValue)
	sb.WriteString(log.StackTrace)
	return sb.String()
}

// pruneCrashLogs keeps the newest keep crash logs in dir.
func pruneCrashLogs(dir string, keep int) error {
	logs, err := listCrashLogs(dir)
	if err != nil || len(logs) <= keep {
		return err
	}
	for _, name := range logs[:len(logs)-keep] {
		if err := fs.Remove(filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("remove old crash log %s: %w", name, err)
		}
	}
	return nil
}

// listCrashLogs returns crash log names, oldest first.
func listCrashLogs(dir string) ([]string, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), crashPrefix) && strings.HasSuffix(e.Name(), crashSuffix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// ListCrashLogs returns the paths of saved crash logs, oldest first.
func ListCrashLogs() ([]string, error) {
	dir := crashLogDir()
	names, err := listCrashLogs(dir)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(dir, name)
	}
	return paths, nil
}
