// Package repoconfig persists the repository hosting settings (platform,
// token, owner) in a KEY=VALUE cache file under the CLI home directory.
package repoconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/shipyard-cli/shipyard/internal/types"
)

// FileName is the cache file name inside the CLI home directory.
const FileName = ".git-info"

var lineRE = regexp.MustCompile(`^\s*([\w.-]+)\s*=\s*(.*)?\s*$`)

// Store reads and writes the cache file. It is not safe for concurrent
// writers; a single process owns it for the duration of a run.
type Store struct {
	path string
}

// Open returns a Store for <cliHome>/.git-info, creating the directory and an
// empty file when they do not exist yet.
func Open(cliHome string) (*Store, error) {
	if err := os.MkdirAll(cliHome, 0700); err != nil {
		return nil, fmt.Errorf("creating %s: %w", cliHome, err)
	}
	path := filepath.Join(cliHome, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0600) // #nosec G304 - path under CLI home
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	_ = f.Close()
	return &Store{path: path}, nil
}

// Path returns the cache file location.
func (s *Store) Path() string {
	return s.path
}

// Values returns every key currently stored in the file.
func (s *Store) Values() (map[string]string, error) {
	data, err := s.read()
	if err != nil {
		return nil, err
	}
	return Parse(data), nil
}

// Load returns the repository config. Keys absent from the file are left
// empty.
func (s *Store) Load() (*types.RepositoryConfig, error) {
	values, err := s.Values()
	if err != nil {
		return nil, err
	}
	cfg := &types.RepositoryConfig{}
	for _, key := range types.RepositoryKeys {
		if val, ok := values[key]; ok {
			_ = cfg.Set(key, val)
		}
	}
	return cfg, nil
}

// Save stores key=value. The first line carrying key is rewritten in place
// and later duplicates are dropped; otherwise the pair is appended. All other
// lines and the file's line-ending style are preserved.
func (s *Store) Save(key, value string) error {
	if !validKey(key) {
		return fmt.Errorf("invalid config key %q", key)
	}
	data, err := s.read()
	if err != nil {
		return err
	}
	entry := key + "=" + encodeValue(value)
	return s.rewrite(data, key, &entry)
}

// Unset removes every line carrying key. Missing keys are not an error.
func (s *Store) Unset(key string) error {
	data, err := s.read()
	if err != nil {
		return err
	}
	return s.rewrite(data, key, nil)
}

func (s *Store) read() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}
	return data, nil
}

// rewrite replaces the first line for key with entry (or removes all lines
// for key when entry is nil) and writes the result back.
func (s *Store) rewrite(data []byte, key string, entry *string) error {
	eol := "\n"
	if strings.Contains(string(data), "\r\n") {
		eol = "\r\n"
	}

	var lines []string
	trailingEOL := true
	if len(data) > 0 {
		lines = strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
		if lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		} else {
			trailingEOL = false
		}
	}

	out := make([]string, 0, len(lines)+1)
	replaced := false
	for _, line := range lines {
		m := lineRE.FindStringSubmatch(line)
		if m == nil || m[1] != key {
			out = append(out, line)
			continue
		}
		if entry != nil && !replaced {
			out = append(out, *entry)
			replaced = true
		}
	}
	if entry != nil && !replaced {
		out = append(out, *entry)
		trailingEOL = true
	}

	content := strings.Join(out, eol)
	if len(out) > 0 && trailingEOL {
		content += eol
	}
	if err := os.WriteFile(s.path, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing %s: %w", s.path, err)
	}
	return nil
}

// Parse decodes KEY=VALUE lines. Values wrapped in matching single or double
// quotes are unwrapped; double-quoted values expand \n to a newline; unquoted
// values are trimmed. Lines that are not assignments are ignored and later
// duplicates win.
func Parse(data []byte) map[string]string {
	values := make(map[string]string)
	for _, line := range strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n") {
		m := lineRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		values[m[1]] = decodeValue(m[2])
	}
	return values
}

func decodeValue(raw string) string {
	val := strings.TrimSpace(raw)
	if n := len(val); n >= 2 && (val[0] == '"' || val[0] == '\'') && val[n-1] == val[0] {
		quote := val[0]
		val = val[1 : n-1]
		if quote == '"' {
			val = strings.ReplaceAll(val, `\n`, "\n")
		}
		return val
	}
	return val
}

func encodeValue(val string) string {
	if !needsQuoting(val) {
		return val
	}
	if strings.ContainsAny(val, "\r\n") {
		val = strings.ReplaceAll(val, "\r\n", "\n")
		return `"` + strings.ReplaceAll(val, "\n", `\n`) + `"`
	}
	if !strings.Contains(val, "'") {
		return "'" + val + "'"
	}
	return `"` + val + `"`
}

func needsQuoting(val string) bool {
	if strings.ContainsAny(val, "\r\n") || strings.TrimSpace(val) != val {
		return true
	}
	n := len(val)
	return n >= 2 && (val[0] == '"' || val[0] == '\'') && val[n-1] == val[0]
}

func validKey(key string) bool {
	m := lineRE.FindStringSubmatch(key + "=")
	return m != nil && m[1] == key
}
