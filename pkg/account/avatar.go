package account

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/haldis/accountd/pkg/variant"
)

const avatarFileName = "avatar"

// avatarPath returns the per-account avatar file location. The unique name
// contains slashes, so it maps onto a nested directory.
func (a *Account) avatarPath() (string, error) {
	if a.dataDir == "" {
		return "", fmt.Errorf("account has no data directory configured")
	}
	if strings.Contains(a.uniqueName, "..") {
		return "", fmt.Errorf("%w: unsafe account name", ErrInvalidArgument)
	}
	return filepath.Join(a.dataDir, a.uniqueName, avatarFileName), nil
}

// SetAvatar stores the avatar blob with its MIME type and opaque token.
// An empty blob with an empty token clears the avatar and forwards the
// blank avatar to a live connection. The avatar-changed notification is
// only raised when the token actually differs.
func (a *Account) SetAvatar(data []byte, mimeType, token string) error {
	path, err := a.avatarPath()
	if err != nil {
		return err
	}

	prevToken := a.storedString(keyAvatarToken)

	if len(data) == 0 && token == "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove avatar file: %w", err)
		}
		a.store.Unset(a.uniqueName, keyAvatarMime)
		a.store.Unset(a.uniqueName, keyAvatarToken)
		if err := a.store.Commit(a.uniqueName); err != nil {
			return fmt.Errorf("failed to persist avatar removal: %w", err)
		}

		a.mu.Lock()
		conn := a.conn
		a.mu.Unlock()
		if conn != nil {
			conn.SetAvatar(nil, "")
		}

		if prevToken != "" {
			a.notifyAvatarChanged("")
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create avatar directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write avatar file: %w", err)
	}

	a.store.SetString(a.uniqueName, keyAvatarMime, mimeType, false)
	a.store.SetString(a.uniqueName, keyAvatarToken, token, false)
	if err := a.store.Commit(a.uniqueName); err != nil {
		return fmt.Errorf("failed to persist avatar metadata: %w", err)
	}

	if token != prevToken {
		a.notifyAvatarChanged(token)
	}
	return nil
}

func (a *Account) notifyAvatarChanged(token string) {
	a.notify.changed(PropAvatar, variant.String(token))
	if a.events.AvatarChanged != nil {
		a.events.AvatarChanged(token)
	}
}

// Avatar returns the stored avatar blob and MIME type, both empty when no
// avatar is set.
func (a *Account) Avatar() ([]byte, string, error) {
	path, err := a.avatarPath()
	if err != nil {
		return nil, "", err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to read avatar file: %w", err)
	}
	return data, a.storedString(keyAvatarMime), nil
}

// AvatarToken returns the opaque token identifying the stored avatar.
func (a *Account) AvatarToken() string { return a.storedString(keyAvatarToken) }
