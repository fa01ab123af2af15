//go:build darwin

package config

import (
	"fmt"
	"os/exec"
	"strings"
)

// platformKeychain stores secrets as generic passwords in the login
// keychain via security(1).
type platformKeychain struct{}

func (platformKeychain) Get(service, account string) (string, error) {
	out, err := security("find-generic-password", "-s", service, "-a", account, "-w")
	if err != nil {
		return "", fmt.Errorf("keychain lookup %s/%s: %w", service, account, err)
	}
	return strings.TrimSpace(out), nil
}

// Set overwrites an existing item in place (-U).
func (platformKeychain) Set(service, account, value string) error {
	if _, err := security("add-generic-password", "-U", "-s", service, "-a", account, "-w", value); err != nil {
		return fmt.Errorf("storing %s in keychain: %w", account, err)
	}
	return nil
}

func security(args ...string) (string, error) {
	out, err := exec.Command("security", args...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}
