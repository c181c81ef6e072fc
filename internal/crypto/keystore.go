package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// secretBytes is the size of generated secrets before encoding.
const secretBytes = 32

// KeyStore keeps generated secrets under a data directory. Each secret file
// is sealed with a key bound to the machine, so a copied data directory does
// not carry a usable secret.
type KeyStore struct {
	dir       string
	machineID func() string
}

// NewKeyStore creates a KeyStore rooted at dataDir/secure.
func NewKeyStore(dataDir string) *KeyStore {
	return &KeyStore{
		dir:       filepath.Join(dataDir, "secure"),
		machineID: machineIdentifier,
	}
}

// LoadOrCreate returns the secret stored for account, generating and
// persisting a random one on first use.
func (k *KeyStore) LoadOrCreate(account string) (string, error) {
	sealer, err := k.machineSealer()
	if err != nil {
		return "", err
	}
	path := k.path(account)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		secret, err := sealer.Open(data)
		if err != nil {
			return "", fmt.Errorf("open secret %s: %w", account, err)
		}
		return string(secret), nil
	case !os.IsNotExist(err):
		return "", fmt.Errorf("read secret %s: %w", account, err)
	}

	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	secret := base64.RawStdEncoding.EncodeToString(raw)

	sealed, err := sealer.Seal([]byte(secret))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(k.dir, 0700); err != nil {
		return "", fmt.Errorf("create secure directory: %w", err)
	}
	if err := os.WriteFile(path, sealed, 0600); err != nil {
		return "", fmt.Errorf("write secret %s: %w", account, err)
	}
	return secret, nil
}

// Delete removes the secret for account. A missing secret is not an error.
func (k *KeyStore) Delete(account string) error {
	if err := os.Remove(k.path(account)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete secret %s: %w", account, err)
	}
	return nil
}

func (k *KeyStore) path(account string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(account)
	return filepath.Join(k.dir, safe+".key")
}

func (k *KeyStore) machineSealer() (*Sealer, error) {
	return NewSealer("kiosksync machine " + k.machineID())
}

// machineIdentifier returns a stable per-machine string, falling back to
// the hostname where no machine id file exists.
func machineIdentifier() string {
	for _, p := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		if data, err := os.ReadFile(p); err == nil {
			if id := strings.TrimSpace(string(data)); id != "" {
				return id
			}
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "unknown-machine"
}
