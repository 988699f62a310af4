package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const appName = "liftoff"

// configDir is $XDG_CONFIG_HOME/liftoff, or ~/.config/liftoff.
func configDir() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return appName
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, appName)
}

// ConfigFilePath returns the location of the JSON config file.
func ConfigFilePath() string {
	return filepath.Join(configDir(), "config.json")
}

func secretsFilePath() string {
	return filepath.Join(configDir(), "secrets.json")
}

// jsonFile is a flat JSON object on disk, keyed by dotted config key.
// A missing file reads as empty.
type jsonFile struct {
	path string
}

func (f jsonFile) read() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, err
	}
	values := map[string]json.RawMessage{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", f.path, err)
	}
	return values, nil
}

// write replaces the file through a temp file and rename, so readers never
// see a partial object. The file is private to the user.
func (f jsonFile) write(values map[string]json.RawMessage) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, f.path)
}

func (f jsonFile) set(key string, v any) error {
	values, err := f.read()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	values[key] = raw
	return f.write(values)
}

// fileBackend serves non-secret keys from config.json. The file is read
// once; a file that cannot be parsed fails every lookup rather than
// silently falling back to defaults.
type fileBackend struct {
	file    jsonFile
	values  map[string]json.RawMessage
	loadErr error
}

func newPlatformBackend() ConfigBackend {
	return newFileBackend(ConfigFilePath())
}

func newFileBackend(path string) *fileBackend {
	b := &fileBackend{file: jsonFile{path: path}}
	b.values, b.loadErr = b.file.read()
	return b
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	if b.loadErr != nil {
		return "", false, b.loadErr
	}
	raw, ok := b.values[key]
	if !ok {
		return "", false, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		// Numbers and booleans are kept in their literal form.
		return string(raw), true, nil
	}
	return s, true, nil
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	if b.loadErr != nil {
		return 0, false, b.loadErr
	}
	raw, ok := b.values[key]
	if !ok {
		return 0, false, nil
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
		}
		return n, true, nil
	}
	return 0, true, fmt.Errorf("value %s for %s is not an integer", raw, key)
}

func (b *fileBackend) SetString(key, val string) error {
	return b.setValue(key, val)
}

func (b *fileBackend) SetInt(key string, val int) error {
	return b.setValue(key, val)
}

func (b *fileBackend) Delete(key string) error {
	if b.loadErr != nil {
		return b.loadErr
	}
	delete(b.values, key)
	return b.file.write(b.values)
}

func (b *fileBackend) setValue(key string, v any) error {
	if b.loadErr != nil {
		return b.loadErr
	}
	if err := b.file.set(key, v); err != nil {
		return err
	}
	b.values, b.loadErr = b.file.read()
	return b.loadErr
}

// fileSecrets keeps secret keys in secrets.json beside the config file.
type fileSecrets struct {
	path string
}

func (f fileSecrets) Get(key string) (string, error) {
	values, err := jsonFile{path: f.path}.read()
	if err != nil {
		return "", err
	}
	raw, ok := values[key]
	if !ok {
		return "", fmt.Errorf("secret %q not found", key)
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("secret %q is not a string", key)
	}
	return v, nil
}

func (f fileSecrets) Set(key, value string) error {
	return jsonFile{path: f.path}.set(key, value)
}
