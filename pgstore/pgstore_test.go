package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	authcore "github.com/mwhitlock/authcore"
	"github.com/mwhitlock/authcore/audit"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return NewWithDB(db), mock
}

func TestCreatePrincipal(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("insert into principals").
		WithArgs("p1", "ada@example.com", "$argon2id$...", "active").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "status", "created_at", "updated_at"}).
			AddRow("p1", "ada@example.com", "$argon2id$...", "active", now, now))

	out, err := s.CreatePrincipal(context.Background(), authcore.Principal{
		ID:           "p1",
		Email:        "ada@example.com",
		PasswordHash: "$argon2id$...",
		Status:       authcore.PrincipalActive,
	})
	if err != nil {
		t.Fatalf("CreatePrincipal: %v", err)
	}
	if out.ID != "p1" || out.Status != authcore.PrincipalActive {
		t.Fatalf("unexpected principal: %+v", out)
	}
}

func TestCreatePrincipalDuplicateEmail(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("insert into principals").
		WithArgs("p2", "ada@example.com", "$argon2id$...", "active").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "principals_email_key"})

	_, err := s.CreatePrincipal(context.Background(), authcore.Principal{
		ID:           "p2",
		Email:        "ada@example.com",
		PasswordHash: "$argon2id$...",
		Status:       authcore.PrincipalActive,
	})
	if !errors.Is(err, authcore.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestGetPrincipalByEmailNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("select id, email, password_hash, status.*from principals").
		WithArgs("nobody@example.com").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetPrincipalByEmail(context.Background(), "nobody@example.com")
	if !errors.Is(err, authcore.ErrPrincipalNotFound) {
		t.Fatalf("expected ErrPrincipalNotFound, got %v", err)
	}
}

func TestUpdatePasswordHashMissingPrincipal(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("update principals set password_hash").
		WithArgs("ghost", "$argon2id$new").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdatePasswordHash(context.Background(), "ghost", "$argon2id$new")
	if !errors.Is(err, authcore.ErrPrincipalNotFound) {
		t.Fatalf("expected ErrPrincipalNotFound, got %v", err)
	}
}

func TestGetMembershipNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("select org_id, principal_id, role, active.*from memberships").
		WithArgs("org1", "p1").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetMembership(context.Background(), "org1", "p1")
	if !errors.Is(err, authcore.ErrMembershipNotFound) {
		t.Fatalf("expected ErrMembershipNotFound, got %v", err)
	}
}

func TestAuditHeadEmpty(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("select sequence, id, prev_hash.*from audit_entries order by sequence desc").
		WillReturnError(sql.ErrNoRows)

	_, found, err := s.Head(context.Background())
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if found {
		t.Fatal("expected empty chain")
	}
}

func TestAuditAppendSequenceConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("insert into audit_entries").
		WithArgs(uint64(7), "01ARZ3", "aa", "p1", "login_success", []byte("{}"), sqlmock.AnyArg(), "bb").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "audit_entries_pkey"})

	err := s.Append(context.Background(), audit.Entry{
		ID:         "01ARZ3",
		Sequence:   7,
		PrevHash:   "aa",
		Actor:      "p1",
		Action:     "login_success",
		OccurredAt: time.Now().UTC(),
		Hash:       "bb",
	})
	if !errors.Is(err, audit.ErrSequenceConflict) {
		t.Fatalf("expected ErrSequenceConflict, got %v", err)
	}
}

func TestAuditRangeDecodesMetadata(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"sequence", "id", "prev_hash", "actor", "action", "metadata", "occurred_at", "hash"}).
		AddRow(uint64(1), "01A", audit.GenesisHash, "p1", "user_create", []byte(`{"email":"ada@example.com"}`), now, "h1").
		AddRow(uint64(2), "01B", "h1", "p1", "login_success", []byte("{}"), now, "h2")

	mock.ExpectQuery("select sequence, id, prev_hash.*from audit_entries where sequence").
		WithArgs(uint64(1), uint64(2)).
		WillReturnRows(rows)

	entries, err := s.Range(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Metadata["email"] != "ada@example.com" {
		t.Fatalf("metadata not decoded: %+v", entries[0].Metadata)
	}
	if entries[1].Metadata != nil {
		t.Fatalf("expected nil metadata for empty object, got %+v", entries[1].Metadata)
	}
}
