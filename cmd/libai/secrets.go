package main

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/Lynx-Eco/lib-ai/pkg/config"
)

// EnvPassword supplies the secrets password for non-interactive startup.
const EnvPassword = "LIBAI_PASSWORD"

// unlockSecrets decrypts the secrets file into memory when one exists. Without a
// file, keys come from the environment only.
func unlockSecrets(baseDir string) error {
	if !config.SecretsFileExists(baseDir) {
		return nil
	}
	password, err := readPassword(false)
	if err != nil {
		return err
	}
	if err := config.LoadSecretsFile(baseDir, password); err != nil {
		return fmt.Errorf("failed to decrypt %s: %w", config.SecretsFilePath(baseDir), err)
	}
	config.LogInfo("🔐 Loaded %d secrets", len(config.GetDecryptedSecretNames()))
	return nil
}

// storeSecret prompts for a value and adds it to the encrypted secrets file,
// creating the file (and confirming a new password) when needed.
func storeSecret(baseDir, name string) error {
	exists := config.SecretsFileExists(baseDir)
	password, err := readPassword(!exists)
	if err != nil {
		return err
	}
	if exists {
		if err := config.LoadSecretsFile(baseDir, password); err != nil {
			return fmt.Errorf("failed to decrypt existing secrets: %w", err)
		}
	}

	value, err := prompt(fmt.Sprintf("Value for %s: ", name))
	if err != nil {
		return err
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("secret value cannot be empty")
	}

	config.SetSecret(name, value)
	return config.SaveSecretsToFile(baseDir, password)
}

// readPassword returns LIBAI_PASSWORD or prompts on the terminal. confirm asks twice.
func readPassword(confirm bool) (string, error) {
	if password := os.Getenv(EnvPassword); password != "" {
		return password, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("secrets password required: set %s or run on a terminal", EnvPassword)
	}

	const maxAttempts = 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		first, err := promptBytes("Secrets password: ")
		if err != nil {
			return "", err
		}
		if !confirm {
			return string(first), nil
		}
		second, err := promptBytes("Confirm password: ")
		if err != nil {
			return "", err
		}
		match := bytes.Equal(first, second)
		password := string(first)
		clear(first)
		clear(second)
		if match {
			return password, nil
		}
		if attempt < maxAttempts {
			fmt.Println("❌ Passwords do not match. Please try again.")
		}
	}
	return "", fmt.Errorf("passwords do not match after %d attempts", maxAttempts)
}

func prompt(label string) (string, error) {
	b, err := promptBytes(label)
	if err != nil {
		return "", err
	}
	defer clear(b)
	return string(b), nil
}

func promptBytes(label string) ([]byte, error) {
	fmt.Print(label)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	return b, nil
}
