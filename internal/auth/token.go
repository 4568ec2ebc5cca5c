package auth

import (
	"os"
	"strings"
)

// TokenProvider supplies the current auth credential. The sync layer
// only reads the credential; issuing and refreshing it belongs to the
// surrounding application.
type TokenProvider interface {
	// Token returns the current credential, or "" when none is available.
	Token() string
}

// Static is a fixed credential.
type Static string

// Token implements TokenProvider.
func (s Static) Token() string { return string(s) }

// FileProvider reads the credential from a file on every call, so an
// external process can rotate it without restarting the daemon.
type FileProvider struct {
	Path string
}

// Token implements TokenProvider. A missing or unreadable file yields
// an empty credential.
func (f FileProvider) Token() string {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
