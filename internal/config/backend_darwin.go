//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "askdoc-data"
	}
	return filepath.Join(home, "Library", "Application Support", "askdoc")
}

func apiKeyHint(account string) string {
	return " or the login keychain (service: askdoc, account: " + account + ")"
}

// defaultsBackend keeps config in the user defaults database under one
// domain, using the dotted key as the defaults key.
type defaultsBackend string

func newPlatformBackend() Backend {
	return defaultsBackend("com.askdoc.app")
}

// run invokes defaults(1). A read of a missing key exits with status 1,
// which is reported as ok == false.
func (d defaultsBackend) run(verb, key string, extra ...string) (out string, ok bool, err error) {
	args := append([]string{verb, string(d), key}, extra...)
	raw, err := exec.Command("defaults", args...).CombinedOutput()
	out = strings.TrimSpace(string(raw))
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return out, true, nil
	case verb == "read" && errors.As(err, &exitErr) && exitErr.ExitCode() == 1:
		return "", false, nil
	default:
		return "", false, fmt.Errorf("defaults %s %s: %w: %s", verb, key, err, out)
	}
}

func (d defaultsBackend) GetString(key string) (string, bool, error) {
	return d.run("read", key)
}

func (d defaultsBackend) GetInt(key string) (int, bool, error) {
	s, ok, err := d.run("read", key)
	if err != nil || !ok {
		return 0, ok, err
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, true, fmt.Errorf("%s is not an integer: %w", key, err)
	}
	return n, true, nil
}

func (d defaultsBackend) SetString(key, val string) error {
	_, _, err := d.run("write", key, "-string", val)
	return err
}

func (d defaultsBackend) SetInt(key string, val int) error {
	_, _, err := d.run("write", key, "-int", strconv.Itoa(val))
	return err
}

func (d defaultsBackend) Delete(key string) error {
	_, _, err := d.run("delete", key)
	return err
}
