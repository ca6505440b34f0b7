// Package humanio bridges deliberation pauses to a human through the
// filesystem: the pending question lands in pause.json inside the
// session directory and the loop blocks until answer.json appears or
// the deadline passes.
package humanio

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"quorum/internal/types"
)

const (
	pauseFile  = "pause.json"
	answerFile = "answer.json"
)

// FileInput implements types.HumanInput over a watched directory.
type FileInput struct {
	dir    string
	logger *zap.Logger
}

// NewFileInput creates a human-input bridge rooted at dir.
func NewFileInput(dir string, logger *zap.Logger) (*FileInput, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create input dir: %w", err)
	}
	return &FileInput{dir: dir, logger: logger}, nil
}

// answerPayload is what a human writes into answer.json.
type answerPayload struct {
	Choice  string            `json:"choice,omitempty"`
	Answers map[string]string `json:"answers,omitempty"`
}

// Resolve implements types.HumanInput. It blocks until answer.json shows
// up, the event deadline passes, or ctx is cancelled. Timeouts resolve
// to the deterministic default: continue with best effort.
func (f *FileInput) Resolve(ctx context.Context, ev types.PauseEvent) (types.PauseResolution, error) {
	if err := f.writePause(ev); err != nil {
		return types.PauseResolution{}, err
	}
	defer f.cleanup()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return types.PauseResolution{}, fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(f.dir); err != nil {
		return types.PauseResolution{}, fmt.Errorf("watch %s: %w", f.dir, err)
	}

	// The answer may already be on disk from before the watch started.
	if res, ok := f.readAnswer(); ok {
		return res, nil
	}

	timeout := time.Until(ev.Deadline)
	if timeout <= 0 {
		return timeoutDefault(ev), nil
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	f.logger.Info("Waiting for human input",
		zap.String("kind", string(ev.Kind)),
		zap.String("file", filepath.Join(f.dir, answerFile)),
		zap.Time("deadline", ev.Deadline))

	for {
		select {
		case <-ctx.Done():
			return types.PauseResolution{}, ctx.Err()
		case <-deadline.C:
			f.logger.Info("Human input timed out, using default")
			return timeoutDefault(ev), nil
		case event, ok := <-watcher.Events:
			if !ok {
				return timeoutDefault(ev), nil
			}
			if filepath.Base(event.Name) != answerFile {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			// Writers may not be done; briefly settle before reading.
			time.Sleep(50 * time.Millisecond)
			if res, ok := f.readAnswer(); ok {
				return res, nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return timeoutDefault(ev), nil
			}
			f.logger.Warn("Watcher error", zap.Error(err))
		}
	}
}

func (f *FileInput) writePause(ev types.PauseEvent) error {
	data, err := json.MarshalIndent(ev, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pause event: %w", err)
	}
	if err := os.WriteFile(filepath.Join(f.dir, pauseFile), data, 0o644); err != nil {
		return fmt.Errorf("write pause file: %w", err)
	}
	return nil
}

func (f *FileInput) readAnswer() (types.PauseResolution, bool) {
	data, err := os.ReadFile(filepath.Join(f.dir, answerFile))
	if err != nil {
		return types.PauseResolution{}, false
	}
	var payload answerPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		f.logger.Warn("Malformed answer file", zap.Error(err))
		return types.PauseResolution{}, false
	}
	res := types.PauseResolution{
		Choice:  types.PauseChoice(payload.Choice),
		Answers: payload.Answers,
	}
	switch res.Choice {
	case types.ChoiceContinueBestEffort, types.ChoiceProvideContext, types.ChoiceEndSubProblem, "":
	default:
		f.logger.Warn("Unknown pause choice, treating as best effort",
			zap.String("choice", payload.Choice))
		res.Choice = types.ChoiceContinueBestEffort
	}
	return res, true
}

func (f *FileInput) cleanup() {
	os.Remove(filepath.Join(f.dir, pauseFile))
	os.Remove(filepath.Join(f.dir, answerFile))
}

func timeoutDefault(ev types.PauseEvent) types.PauseResolution {
	res := types.PauseResolution{TimedOut: true}
	if ev.Kind == types.WaitContextChoice {
		res.Choice = types.ChoiceContinueBestEffort
	}
	return res
}
