package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/crypto/scrypt"
)

// SecretsDirName is the directory under the base dir that holds the sealed secrets file.
const SecretsDirName = ".libai"

const (
	secretsFileName = "secrets.json.enc"
	saltLen         = 16
	keyLen          = 32 // AES-256
)

// scrypt cost parameters.
const (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// secretsMagic prefixes every sealed file and is bound into the GCM tag as
// additional data, so a file from another tool or format version fails to open.
var secretsMagic = []byte("LAI1") //nolint:gochecknoglobals // constant byte slice

// ErrBadPassword is returned when a sealed file cannot be opened with the given password.
var ErrBadPassword = errors.New("decryption failed (wrong password or corrupted file)")

// SecretStore holds decrypted secrets in memory. The zero value is empty and ready to use.
type SecretStore struct {
	mu      sync.RWMutex
	secrets map[string]string
}

//nolint:gochecknoglobals // process-wide secrets unlocked once at startup
var secretStore = &SecretStore{}

// Get returns the named secret, or false when it is unset or empty.
func (s *SecretStore) Get(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.secrets[name]
	return v, ok && v != ""
}

// Set stores one secret.
func (s *SecretStore) Set(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.secrets == nil {
		s.secrets = make(map[string]string)
	}
	s.secrets[name] = value
}

// Delete removes one secret.
func (s *SecretStore) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.secrets, name)
}

// Replace swaps the whole set. A nil map clears the store.
func (s *SecretStore) Replace(secrets map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets = secrets
}

// Names lists secret names in sorted order. Values are never listed.
func (s *SecretStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.secrets))
	for name := range s.secrets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *SecretStore) snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.secrets))
	for k, v := range s.secrets {
		out[k] = v
	}
	return out
}

// Load opens the sealed file under baseDir and replaces the store's contents.
func (s *SecretStore) Load(baseDir, password string) error {
	secrets, err := DecryptSecretsFile(baseDir, password)
	if err != nil {
		return err
	}
	s.Replace(secrets)
	return nil
}

// Save seals the store's contents to the file under baseDir.
func (s *SecretStore) Save(baseDir, password string) error {
	return EncryptSecretsFile(baseDir, password, s.snapshot())
}

// DefaultSecretsDir is the user's home, or the working directory when home is unknown.
func DefaultSecretsDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "."
}

// SecretsFilePath returns <baseDir>/.libai/secrets.json.enc.
func SecretsFilePath(baseDir string) string {
	return filepath.Join(baseDir, SecretsDirName, secretsFileName)
}

// SecretsFileExists reports whether a sealed file exists under baseDir.
func SecretsFileExists(baseDir string) bool {
	_, err := os.Stat(SecretsFilePath(baseDir))
	return err == nil
}

// GetSecret resolves name from the unlocked secrets file, then from the environment.
func GetSecret(name string) (string, error) {
	if name == "" {
		return "", errors.New("secret name is empty")
	}
	if v, ok := secretStore.Get(name); ok {
		return v, nil
	}
	if v := os.Getenv(name); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("secret %s not found in secrets file or environment", name)
}

// SetDecryptedSecrets replaces the process-wide secrets.
func SetDecryptedSecrets(secrets map[string]string) { secretStore.Replace(secrets) }

// GetDecryptedSecretNames lists the process-wide secret names.
func GetDecryptedSecretNames() []string { return secretStore.Names() }

// SetSecret stores one process-wide secret.
func SetSecret(name, value string) { secretStore.Set(name, value) }

// DeleteSecret removes one process-wide secret.
func DeleteSecret(name string) { secretStore.Delete(name) }

// LoadSecretsFile unlocks the sealed file under baseDir into the process-wide secrets.
func LoadSecretsFile(baseDir, password string) error { return secretStore.Load(baseDir, password) }

// SaveSecretsToFile seals the process-wide secrets to the file under baseDir.
func SaveSecretsToFile(baseDir, password string) error { return secretStore.Save(baseDir, password) }

// sealer derives an AES-GCM key from password and salt with scrypt.
func sealer(password string, salt []byte) (cipher.AEAD, error) {
	pw := []byte(password)
	defer clear(pw)

	key, err := scrypt.Key(pw, salt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	defer clear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead, nil
}

// EncryptSecretsFile seals secrets to <baseDir>/.libai/secrets.json.enc with mode 0600.
// File layout: magic | salt | nonce | ciphertext+tag. The file is replaced atomically.
func EncryptSecretsFile(baseDir, password string, secrets map[string]string) error {
	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}
	defer clear(plaintext)

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	aead, err := sealer(password, salt)
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, len(secretsMagic)+saltLen+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, secretsMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plaintext, secretsMagic)

	dir := filepath.Join(baseDir, SecretsDirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return writeFileAtomic(SecretsFilePath(baseDir), out)
}

// writeFileAtomic writes data to a 0600 temp file in path's directory and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".secrets-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op after a successful rename

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close() //nolint:errcheck,gosec // already failing
		return fmt.Errorf("failed to set secrets file permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck,gosec // already failing
		return fmt.Errorf("failed to write secrets file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write secrets file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace secrets file: %w", err)
	}
	return nil
}

// DecryptSecretsFile opens <baseDir>/.libai/secrets.json.enc. A file readable by
// others is tightened to 0600 before it is read.
func DecryptSecretsFile(baseDir, password string) (map[string]string, error) {
	path := SecretsFilePath(baseDir)

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat secrets file: %w", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		LogInfo("⚠️  Secrets file mode is %04o, resetting to 0600", perm)
		if err := os.Chmod(path, 0o600); err != nil {
			return nil, fmt.Errorf("failed to fix file permissions: %w", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets file: %w", err)
	}
	if len(data) < len(secretsMagic)+saltLen || string(data[:len(secretsMagic)]) != string(secretsMagic) {
		return nil, fmt.Errorf("%s is not a libai secrets file", path)
	}
	data = data[len(secretsMagic):]

	aead, err := sealer(password, data[:saltLen])
	if err != nil {
		return nil, err
	}
	data = data[saltLen:]
	if len(data) < aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("%s is truncated", path)
	}

	nonce, sealed := data[:aead.NonceSize()], data[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, secretsMagic)
	if err != nil {
		return nil, ErrBadPassword
	}
	defer clear(plaintext)

	var secrets map[string]string
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return nil, fmt.Errorf("failed to parse secrets: %w", err)
	}
	return secrets, nil
}
