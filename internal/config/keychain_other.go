//go:build !darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var errSecretNotFound = errors.New("secret not found")

func secretsFilePath() string {
	return filepath.Join(defaultDataDir(), "secrets.yaml")
}

// platformKeychain keeps secrets in a 0600 YAML file next to the data
// directory, keyed "service/account".
type platformKeychain struct{}

func (platformKeychain) Get(service, account string) (string, error) {
	secrets, err := readSecrets(secretsFilePath())
	if err != nil {
		return "", err
	}
	v, ok := secrets[secretKey(service, account)]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", errSecretNotFound, service, account)
	}
	return strings.TrimSpace(v), nil
}

func (platformKeychain) Set(service, account, value string) error {
	path := secretsFilePath()
	secrets, err := readSecrets(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if secrets == nil {
		secrets = make(map[string]string)
	}
	secrets[secretKey(service, account)] = value
	return writeSecrets(path, secrets)
}

func secretKey(service, account string) string {
	return service + "/" + account
}

func readSecrets(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading secrets: %w", err)
	}
	var secrets map[string]string
	if err := yaml.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return secrets, nil
}

// writeSecrets replaces the file through a rename so a crash never leaves
// a truncated store behind.
func writeSecrets(path string, secrets map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	data, err := yaml.Marshal(secrets)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".secrets-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
