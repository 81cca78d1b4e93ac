package orchestrate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// progressSnapshot is the index-progress.json shape: human observability
// only, never consulted for correctness (spec.md §6).
type progressSnapshot struct {
	RunID     string    `json:"runId"`
	Phase     string    `json:"phase"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// runObserver writes index.log lines and index-progress.json snapshots
// for one Index() invocation, tagged with a fresh run id so concurrent
// or successive runs' log lines can be told apart.
type runObserver struct {
	runID      string
	storageDir string
	quiet      bool
}

func newRunObserver(storageDir string, quiet bool) *runObserver {
	return &runObserver{runID: uuid.NewString(), storageDir: storageDir, quiet: quiet}
}

func (r *runObserver) phase(name string) {
	if !r.quiet {
		r.logger().Printf("[%s] %s", r.runID, name)
	}
	snap := progressSnapshot{RunID: r.runID, Phase: name, UpdatedAt: time.Now()}
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return
	}
	_ = atomicWriteBytes(filepath.Join(r.storageDir, "index-progress.json"), b)
}

func (r *runObserver) logger() *logWriter {
	return &logWriter{path: filepath.Join(r.storageDir, "index.log")}
}

// logWriter appends a line to index.log, creating the file and its
// directory as needed. Failures to write the observability log are
// swallowed: index.log is never part of the correctness contract.
type logWriter struct {
	path string
}

func (w *logWriter) Printf(format string, args ...any) {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	line := time.Now().Format(time.RFC3339) + " " + fmt.Sprintf(format, args...) + "\n"
	f.WriteString(line)
}
