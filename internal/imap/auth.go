package imap

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Credentials bundles an account's server settings with its secret. Exactly
// one of Password or AccessToken should be set; a non-empty AccessToken
// selects OAUTHBEARER authentication.
type Credentials struct {
	Server      ServerConfig `json:"server"`
	Password    string       `json:"password,omitempty"`
	AccessToken string       `json:"access_token,omitempty"`
}

// credentialsPath returns the path to the credentials file for the given
// account email.
func credentialsPath(credsDir, email string) string {
	hash := sha256.Sum256([]byte(email))
	prefix := fmt.Sprintf("%x", hash[:8])
	return filepath.Join(credsDir, "account_"+prefix+".json")
}

// SaveCredentials saves account credentials for the given email.
func SaveCredentials(credsDir, email string, creds *Credentials) error {
	if err := os.MkdirAll(credsDir, 0700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	data, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	path := credentialsPath(credsDir, email)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

// LoadCredentials loads account credentials for the given email.
func LoadCredentials(credsDir, email string) (*Credentials, error) {
	path := credentialsPath(credsDir, email)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no credentials found for %s (run 'add-account' first)", email)
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return &creds, nil
}

// HasCredentials returns true if credentials exist for the given email.
func HasCredentials(credsDir, email string) bool {
	path := credentialsPath(credsDir, email)
	_, err := os.Stat(path)
	return err == nil
}
