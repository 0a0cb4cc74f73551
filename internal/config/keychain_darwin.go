//go:build darwin

package config

import (
	"os/exec"
	"strings"
)

// keychainLookup reads a generic password from the macOS Keychain.
// `security -w` prints the secret with a trailing newline.
func keychainLookup(service, account string) (string, error) {
	out, err := exec.Command(
		"security", "find-generic-password",
		"-s", service,
		"-a", account,
		"-w",
	).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
