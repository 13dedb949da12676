package config

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// envFileNames are read in order; a key set by an earlier file wins.
var envFileNames = []string{".env.local", ".env"}

// envFileDirs lists CONFIG_DIR, the working directory and the executable's
// directory, without duplicates.
func envFileDirs() []string {
	var dirs []string
	add := func(dir string) {
		if dir == "" {
			return
		}
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
		if !slices.Contains(dirs, dir) {
			dirs = append(dirs, dir)
		}
	}
	add(os.Getenv("CONFIG_DIR"))
	if cwd, err := os.Getwd(); err == nil {
		add(cwd)
	}
	if exe, err := os.Executable(); err == nil {
		add(filepath.Dir(exe))
	}
	return dirs
}

// loadEnvFiles applies every env file found in envFileDirs and returns the
// paths it read. Variables already present in the environment are kept.
func loadEnvFiles() []string {
	var loaded []string
	for _, dir := range envFileDirs() {
		for _, name := range envFileNames {
			path := filepath.Join(dir, name)
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			applyEnvFile(data)
			loaded = append(loaded, path)
		}
	}
	return loaded
}

// applyEnvFile sets KEY=value pairs from data. It accepts an optional
// "export " prefix, single or double quoted values and trailing " #"
// comments on unquoted values. It returns how many variables it set.
func applyEnvFile(data []byte) int {
	n := 0
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		value = envValue(strings.TrimSpace(value))
		if os.Getenv(key) != "" {
			continue
		}
		if err := os.Setenv(key, value); err == nil {
			n++
		}
	}
	return n
}

func envValue(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') {
		if end := strings.IndexByte(v[1:], v[0]); end >= 0 {
			return v[1 : end+1]
		}
	}
	if i := strings.Index(v, " #"); i >= 0 {
		v = strings.TrimSpace(v[:i])
	}
	return v
}
