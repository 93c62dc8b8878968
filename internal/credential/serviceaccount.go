package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/tinywideclouds/go-notifyhub/pkg/notify"
)

// ServiceAccount is the subset of a Google service account key file we use.
type ServiceAccount struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	TokenURI     string `json:"token_uri"`
}

// LoadServiceAccount reads and decodes the key file at path.
func LoadServiceAccount(path string) (*ServiceAccount, error) {
	if path == "" {
		return nil, notify.CredentialError("FCM service account not configured", errors.New("no service account path set"))
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notify.CredentialError("FCM service account not configured", err)
		}
		return nil, notify.CredentialError("FCM service account not readable", err)
	}

	var sa ServiceAccount
	if err := json.Unmarshal(raw, &sa); err != nil {
		return nil, notify.CredentialError("Invalid service account configuration", fmt.Errorf("decode %s: %w", path, err))
	}
	if sa.ClientEmail == "" || sa.PrivateKey == "" {
		return nil, notify.CredentialError("Invalid service account configuration", errors.New("client_email and private_key are required"))
	}
	return &sa, nil
}
