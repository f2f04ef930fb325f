package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Account represents a mirrored mailbox.
type Account struct {
	ID              int64
	Email           string
	InitialSyncDone bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

const sqliteTimeLayout = "2006-01-02 15:04:05"

func scanAccount(row interface{ Scan(...interface{}) error }) (*Account, error) {
	var acc Account
	var done int
	var createdAt, updatedAt sql.NullString

	err := row.Scan(&acc.ID, &acc.Email, &done, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	acc.InitialSyncDone = done != 0
	if createdAt.Valid {
		acc.CreatedAt, _ = time.Parse(sqliteTimeLayout, createdAt.String)
	}
	if updatedAt.Valid {
		acc.UpdatedAt, _ = time.Parse(sqliteTimeLayout, updatedAt.String)
	}
	return &acc, nil
}

// GetOrCreateAccount gets or creates the account row for an email address.
func (s *Store) GetOrCreateAccount(email string) (*Account, error) {
	acc, err := s.GetAccountByEmail(email)
	if err != nil {
		return nil, err
	}
	if acc != nil {
		return acc, nil
	}

	result, err := s.db.Exec(`
		INSERT INTO accounts (email, created_at, updated_at)
		VALUES (?, datetime('now'), datetime('now'))
	`, email)
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}

	id, _ := result.LastInsertId()
	return &Account{
		ID:        id,
		Email:     email,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}, nil
}

// GetAccountByEmail returns the account for an email address, or nil.
func (s *Store) GetAccountByEmail(email string) (*Account, error) {
	row := s.db.QueryRow(`
		SELECT id, email, initial_sync_done, created_at, updated_at
		FROM accounts
		WHERE email = ?
	`, email)

	acc, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return acc, nil
}

// ListAccounts returns all accounts ordered by email.
func (s *Store) ListAccounts() ([]*Account, error) {
	rows, err := s.db.Query(`
		SELECT id, email, initial_sync_done, created_at, updated_at
		FROM accounts
		ORDER BY email
	`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return accounts, nil
}

// MarkInitialSyncDone records that the account finished its first full pass.
func (s *Store) MarkInitialSyncDone(accountID int64) error {
	_, err := s.db.Exec(`
		UPDATE accounts
		SET initial_sync_done = 1, updated_at = datetime('now')
		WHERE id = ?
	`, accountID)
	return err
}
