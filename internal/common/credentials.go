package common

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
)

const (
	UsernameFile = "usuario.txt"
	PasswordFile = "contrasena.txt"
)

// Credentials are the portal login pair
type Credentials struct {
	Username string
	Password string
}

// IsComplete reports whether both values are present
func (c Credentials) IsComplete() bool {
	return c.Username != "" && c.Password != ""
}

// LoadCredentials reads the two plaintext credential files once at startup.
// A missing file is only logged: the login step reports it as an
// authentication failure, which keeps the failure inside the supervised run.
func LoadCredentials(dir string, logger arbor.ILogger) Credentials {
	return Credentials{
		Username: readCredentialFile(filepath.Join(dir, UsernameFile), logger),
		Password: readCredentialFile(filepath.Join(dir, PasswordFile), logger),
	}
}

func readCredentialFile(path string, logger arbor.ILogger) string {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("Failed to read credential file")
		return ""
	}
	return strings.TrimSpace(string(data))
}
