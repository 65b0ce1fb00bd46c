// Package credentials is the SQLite-backed user credential store. It owns
// usernames, password hashes and the face label bound to each user after a
// successful enrollment.
package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/MrCodeEU/facelogin/pkg/credentials/migrations"
	"github.com/MrCodeEU/facelogin/pkg/logging"
)

// ErrUserExists is returned when registering a taken username.
var ErrUserExists = errors.New("user already exists")

// ErrInvalidCredentials is returned for an unknown user or wrong password.
var ErrInvalidCredentials = errors.New("invalid username or password")

// ErrNotFound is returned when no user matches a lookup.
var ErrNotFound = errors.New("user not found")

// ErrLabelAlreadyBound is returned when a user already has a different
// face label.
var ErrLabelAlreadyBound = errors.New("face label already bound")

// User is one credential record.
type User struct {
	ID        int64
	Username  string
	FaceLabel *int64
}

// HasFace reports whether the user completed face enrollment.
func (u User) HasFace() bool {
	return u.FaceLabel != nil
}

// DBTX is the subset of database/sql used by the store.
// Both *sql.DB and *sql.Tx satisfy this interface.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements the credential store operations.
type Store struct {
	db DBTX
	// conn is set when the store opened the database itself.
	conn *sql.DB
}

// New wraps an existing handle whose schema is already migrated.
func New(db DBTX) *Store {
	return &Store{db: db}
}

// RunMigrations applies the embedded schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(logging.Component("credentials"))

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, ".")
}

// Open opens (creating if needed) the SQLite database at dsn and migrates
// it. Use ":memory:" for a throwaway store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}
	// One connection keeps a ":memory:" database alive and serializes writers.
	db.SetMaxOpenConns(1)

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate credential store: %w", err)
	}

	logging.Component("credentials").Debugf("Opened credential store %s", dsn)
	return &Store{db: db, conn: db}, nil
}

// Close closes a database opened by Open.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// withTx runs fn in a transaction when the store owns a *sql.DB, and
// directly on the handle otherwise.
func (s *Store) withTx(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) (err error) {
	if s.conn == nil {
		return fn(ctx, s.db)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	return fn(ctx, tx)
}

const userColumns = `id, username, face_label`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	var label sql.NullInt64
	if err := row.Scan(&u.ID, &u.Username, &label); err != nil {
		return User{}, err
	}
	if label.Valid {
		v := label.Int64
		u.FaceLabel = &v
	}
	return u, nil
}

func lookup(ctx context.Context, db DBTX, where string, arg any) (User, error) {
	u, err := scanUser(db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("failed to look up user: %w", err)
	}
	return u, nil
}

// Create registers a new user with a hashed password.
func (s *Store) Create(ctx context.Context, username, password string) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return User{}, errors.New("username must not be empty")
	}

	hash, err := HashPassword(password)
	if err != nil {
		return User{}, err
	}

	var user User
	err = s.withTx(ctx, func(ctx context.Context, tx DBTX) error {
		if _, err := lookup(ctx, tx, `username = ?`, username); err == nil {
			return ErrUserExists
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		res, err := tx.ExecContext(ctx, `INSERT INTO users (username, password_hash) VALUES (?, ?)`, username, hash)
		if err != nil {
			return fmt.Errorf("failed to insert user %s: %w", username, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read user id: %w", err)
		}
		user = User{ID: id, Username: username}
		return nil
	})
	if err != nil {
		return User{}, err
	}

	logging.Component("credentials").WithField("user_id", user.ID).Infof("Registered user %s", username)
	return user, nil
}

// Authenticate returns the user when password matches.
func (s *Store) Authenticate(ctx context.Context, username, password string) (User, error) {
	var u User
	var hash string
	var label sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, face_label FROM users WHERE username = ?`,
		strings.TrimSpace(username),
	).Scan(&u.ID, &u.Username, &hash, &label)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, fmt.Errorf("failed to look up user: %w", err)
	}

	ok, err := VerifyPassword(password, hash)
	if err != nil {
		logging.Component("credentials").WithError(err).Warnf("Unusable password hash for user %d", u.ID)
		return User{}, ErrInvalidCredentials
	}
	if !ok {
		return User{}, ErrInvalidCredentials
	}

	if label.Valid {
		v := label.Int64
		u.FaceLabel = &v
	}
	return u, nil
}

// LookupByUsername finds a user by name.
func (s *Store) LookupByUsername(ctx context.Context, username string) (User, error) {
	return lookup(ctx, s.db, `username = ?`, strings.TrimSpace(username))
}

// LookupByFaceLabel finds the user a face label is bound to.
func (s *Store) LookupByFaceLabel(ctx context.Context, label int64) (User, error) {
	return lookup(ctx, s.db, `face_label = ?`, label)
}

// BindFaceLabel sets the face label of user id. Binding the same label
// again is a no-op; a different label fails with ErrLabelAlreadyBound.
func (s *Store) BindFaceLabel(ctx context.Context, id, label int64) error {
	err := s.withTx(ctx, func(ctx context.Context, tx DBTX) error {
		u, err := lookup(ctx, tx, `id = ?`, id)
		if err != nil {
			return err
		}
		if u.FaceLabel != nil {
			if *u.FaceLabel == label {
				return nil
			}
			return fmt.Errorf("%w: user %d has label %d", ErrLabelAlreadyBound, id, *u.FaceLabel)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE users SET face_label = ? WHERE id = ?`, label, id); err != nil {
			return fmt.Errorf("failed to bind face label: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logging.Component("credentials").WithFields(logging.Fields{"user_id": id, "label": label}).Info("Bound face label")
	return nil
}

// ListIDs returns every user id in ascending order.
func (s *Store) ListIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user rows: %w", err)
	}
	return ids, nil
}

// List returns every user in ascending id order.
func (s *Store) List(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user rows: %w", err)
	}
	return users, nil
}
