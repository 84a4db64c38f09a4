package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/yomogi-work/kizuki-log-sync/pkg/db"
)

func setupTestDB(t *testing.T) *sqlx.DB {
	conn, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestCanonicalize(t *testing.T) {
	cases := map[string]string{
		"山田　太郎":     "山田 太郎",
		"  山田 \t 太郎 ": "山田 太郎",
		"山田太郎":      "山田太郎",
		"ＹＡＭＡＤＡ　Ｔａｒｏ": "YAMADA Taro",
		"":          "",
		"　":         "",
	}
	for in, want := range cases {
		if got := Canonicalize(in); got != want {
			t.Errorf("Canonicalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolveCreatesOnceAcrossWidths(t *testing.T) {
	conn := setupTestDB(t)
	r := NewResolver(conn)

	id1, created, err := r.Resolve("山田　太郎")
	if err != nil || !created {
		t.Fatalf("first resolve: id=%d created=%v err=%v", id1, created, err)
	}
	id2, created, err := r.Resolve(" 山田 太郎")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if created || id2 != id1 {
		t.Fatalf("expected same student, got %d and %d", id1, id2)
	}
	s, err := db.GetStudent(conn, id1)
	if err != nil {
		t.Fatalf("get student: %v", err)
	}
	if s.StartDate.Valid {
		t.Fatalf("new student should have no start date")
	}
}

func TestResolveViaAlias(t *testing.T) {
	conn := setupTestDB(t)
	r := NewResolver(conn)
	id, _, err := r.Resolve("山田 太郎")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := r.AddAlias("山田太郎", id); err != nil {
		t.Fatalf("add alias: %v", err)
	}
	got, created, err := r.Resolve("山田太郎")
	if err != nil || created || got != id {
		t.Fatalf("alias resolve: got=%d created=%v err=%v", got, created, err)
	}
}

func TestAmbiguousIdentity(t *testing.T) {
	conn := setupTestDB(t)
	r := NewResolver(conn)
	a, _, _ := r.Resolve("山田 太郎")
	b, _, _ := r.Resolve("山田 花子")

	if err := r.AddAlias("山田 花子", a); !errors.Is(err, ErrAmbiguousIdentity) {
		t.Fatalf("expected ambiguity adding another student's name as alias, got %v", err)
	}

	// An alias row that collides with a canonical name written directly.
	if err := db.AddAlias(conn, "山田 花子", a); err != nil {
		t.Fatalf("raw alias: %v", err)
	}
	if _, _, err := r.Resolve("山田　花子"); !errors.Is(err, ErrAmbiguousIdentity) {
		t.Fatalf("expected ErrAmbiguousIdentity, got %v", err)
	}
	_ = b
}

func TestMergeRegistersAlias(t *testing.T) {
	conn := setupTestDB(t)
	var keepID int64
	err := db.WithTx(context.Background(), conn, func(tx *sqlx.Tx) error {
		r := NewResolver(tx)
		if _, _, err := r.Resolve("山田 太郎"); err != nil {
			return err
		}
		if _, _, err := r.Resolve("山田太郎"); err != nil {
			return err
		}
		var err error
		keepID, err = r.Merge("山田 太郎", "山田太郎")
		return err
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	r := NewResolver(conn)
	id, created, err := r.Resolve("山田太郎")
	if err != nil || created || id != keepID {
		t.Fatalf("expected merged name to resolve to %d, got %d created=%v err=%v", keepID, id, created, err)
	}
	students, err := db.ListStudents(conn)
	if err != nil || len(students) != 1 {
		t.Fatalf("expected one student after merge, got %v (%v)", students, err)
	}

	aliases, err := r.Aliases()
	if err != nil {
		t.Fatalf("aliases: %v", err)
	}
	if aliases["山田太郎"] != "山田 太郎" || len(aliases) != 1 {
		t.Fatalf("expected the merged name as the only alias, got %v", aliases)
	}
}

func TestLookupUnknown(t *testing.T) {
	conn := setupTestDB(t)
	if _, err := NewResolver(conn).Lookup("誰か"); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
