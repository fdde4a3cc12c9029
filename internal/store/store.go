package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/matthis-k/uniq-proc/internal/registry"
)

// CommandsFile is the name of the command-definition store inside the
// per-application config directory.
const CommandsFile = "config.json"

// FileStore persists the registry as two JSON documents: the durable
// command definitions under the config directory and a transient snapshot
// of the whole registry (commands and running pids).
//
// Only the agent writes these files, so no file locking is done.
type FileStore struct {
	CommandsPath string
	SnapshotPath string
}

// New returns a FileStore for the given config directory and snapshot path.
func New(configDir, snapshotPath string) *FileStore {
	return &FileStore{
		CommandsPath: filepath.Join(configDir, CommandsFile),
		SnapshotPath: snapshotPath,
	}
}

// Load builds the initial registry state.
//
// The command-definition store always wins for commands when it exists.
// With keep set, running pids are recovered from the snapshot, and so are
// the commands when the definition store is absent.
func (s *FileStore) Load(keep bool) (registry.State, error) {
	st := registry.NewState()

	cmdsExist, err := exists(s.CommandsPath)
	if err != nil {
		return st, err
	}

	if keep {
		var snap registry.State
		found, err := readJSON(s.SnapshotPath, &snap)
		if err != nil {
			return st, fmt.Errorf("read snapshot %s: %w", s.SnapshotPath, err)
		}
		if found {
			if !cmdsExist && snap.Commands != nil {
				st.Commands = snap.Commands
			}
			if snap.Running != nil {
				st.Running = snap.Running
			}
			slog.Debug("recovered snapshot", "path", s.SnapshotPath, "commands", len(snap.Commands), "running", len(snap.Running))
		}
	}

	if cmdsExist {
		cmds := map[string]string{}
		if _, err := readJSON(s.CommandsPath, &cmds); err != nil {
			return st, fmt.Errorf("read commands %s: %w", s.CommandsPath, err)
		}
		if cmds == nil {
			cmds = map[string]string{}
		}
		st.Commands = cmds
	}
	return st, nil
}

// SaveSnapshot writes the full registry to the snapshot path.
func (s *FileStore) SaveSnapshot(st registry.State) error {
	return writeJSON(s.SnapshotPath, st)
}

// SaveCommands writes the command definitions, creating the config
// directory when needed.
func (s *FileStore) SaveCommands(cmds map[string]string) error {
	if cmds == nil {
		cmds = map[string]string{}
	}
	return writeJSON(s.CommandsPath, cmds)
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func readJSON(path string, v any) (bool, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return true, err
	}
	return true, nil
}

// writeJSON replaces path atomically via a temp file in the same directory.
func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(b, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
