package credentials

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreate_AndLookup(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	u, err := s.Create(ctx, "alice", "secret1")
	require.NoError(t, err)
	assert.Positive(t, u.ID)
	assert.Equal(t, "alice", u.Username)
	assert.False(t, u.HasFace())

	got, err := s.LookupByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Nil(t, got.FaceLabel)
}

func TestCreate_DuplicateUsername(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "bob", "secret1")
	require.NoError(t, err)

	_, err = s.Create(ctx, "bob", "another1")
	require.ErrorIs(t, err, ErrUserExists)
}

func TestCreate_EmptyUsername(t *testing.T) {
	s := setupStore(t)
	_, err := s.Create(context.Background(), "   ", "secret1")
	require.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, "carol", "hunter22")
	require.NoError(t, err)

	u, err := s.Authenticate(ctx, "carol", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, created.ID, u.ID)

	_, err = s.Authenticate(ctx, "carol", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = s.Authenticate(ctx, "nobody", "hunter22")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLookup_NotFound(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	_, err := s.LookupByUsername(ctx, "ghost")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.LookupByFaceLabel(ctx, 42)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestBindFaceLabel(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	u, err := s.Create(ctx, "dave", "secret1")
	require.NoError(t, err)

	require.NoError(t, s.BindFaceLabel(ctx, u.ID, u.ID))

	byLabel, err := s.LookupByFaceLabel(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "dave", byLabel.Username)
	require.NotNil(t, byLabel.FaceLabel)
	assert.Equal(t, u.ID, *byLabel.FaceLabel)

	// Same value again is idempotent.
	require.NoError(t, s.BindFaceLabel(ctx, u.ID, u.ID))

	err = s.BindFaceLabel(ctx, u.ID, u.ID+100)
	require.ErrorIs(t, err, ErrLabelAlreadyBound)

	err = s.BindFaceLabel(ctx, 999, 999)
	require.ErrorIs(t, err, ErrNotFound)

	authed, err := s.Authenticate(ctx, "dave", "secret1")
	require.NoError(t, err)
	assert.True(t, authed.HasFace())
}

func TestListIDs(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	ids, err := s.ListIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	var want []int64
	for _, name := range []string{"u1", "u2", "u3"} {
		u, err := s.Create(ctx, name, "secret1")
		require.NoError(t, err)
		want = append(want, u.ID)
	}

	ids, err = s.ListIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, ids)

	users, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, "u2", users[1].Username)
}

func TestOpen_FilePersists(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "users.db")
	ctx := context.Background()

	s, err := Open(ctx, dsn)
	require.NoError(t, err)
	_, err = s.Create(ctx, "erin", "secret1")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, dsn)
	require.NoError(t, err)
	defer reopened.Close()

	u, err := reopened.LookupByUsername(ctx, "erin")
	require.NoError(t, err)
	assert.Equal(t, "erin", u.Username)
}

func TestListIDs_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM users ORDER BY id`)).
		WillReturnError(errors.New("database is locked"))

	_, err = New(db).ListIDs(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list users")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListIDs_ScanError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM users ORDER BY id`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("not-a-number"))

	_, err = New(db).ListIDs(context.Background())
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBindFaceLabel_UpdateError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, username, face_label FROM users WHERE id = ?`)).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "face_label"}).AddRow(int64(5), "frank", nil))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET face_label = ? WHERE id = ?`)).
		WithArgs(int64(5), int64(5)).
		WillReturnError(errors.New("disk I/O error"))

	err = New(db).BindFaceLabel(context.Background(), 5, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to bind face label")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.Contains(t, hash, "$argon2id$v=19$")

	ok, err := VerifyPassword("correct horse", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("battery staple", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = VerifyPassword("x", "plaintext")
	require.Error(t, err)

	other, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, hash, other, "salts must differ")
}
