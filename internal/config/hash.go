package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

// checksumSuffix names the sidecar file holding the expected config hash.
const checksumSuffix = ".b3"

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// WriteChecksum computes and writes the sidecar checksum for a config file.
func WriteChecksum(configPath string) (string, error) {
	hash, err := ComputeBlake3Hash(configPath)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(configPath+checksumSuffix, []byte(hash+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("failed to write checksum: %w", err)
	}
	return hash, nil
}

// VerifyChecksum verifies a config file against its sidecar checksum when one
// exists. A missing sidecar is not an error; a mismatch is.
func VerifyChecksum(configPath string) error {
	expected, err := os.ReadFile(configPath + checksumSuffix)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read checksum: %w", err)
	}

	actual, err := ComputeBlake3Hash(configPath)
	if err != nil {
		return err
	}
	if actual != strings.TrimSpace(string(expected)) {
		return fmt.Errorf("checksum mismatch for %s: config was modified without 'config hash-update'",
			filepath.Base(configPath))
	}
	return nil
}
