// Package identity maps free-text student names onto stable student ids.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/width"

	"github.com/yomogi-work/kizuki-log-sync/pkg/db"
)

// ErrAmbiguousIdentity is returned when a name could refer to more than one student.
var ErrAmbiguousIdentity = errors.New("ambiguous student identity")

// Canonicalize folds full-width characters (including the ideographic space)
// to their narrow forms, collapses whitespace runs to a single space and trims.
// It is the only name normalization used by the module.
func Canonicalize(name string) string {
	folded := width.Fold.String(name)
	return strings.Join(strings.FieldsFunc(folded, unicode.IsSpace), " ")
}

// Resolver resolves names against the students and student_aliases tables.
type Resolver struct {
	Exec db.DBExecutor
}

// NewResolver returns a resolver bound to exec, typically a transaction.
func NewResolver(exec db.DBExecutor) *Resolver {
	return &Resolver{Exec: exec}
}

// Lookup returns the student for name without creating one.
// It returns db.ErrNotFound when neither a canonical name nor an alias matches.
func (r *Resolver) Lookup(name string) (*db.Student, error) {
	canon := Canonicalize(name)
	if canon == "" {
		return nil, fmt.Errorf("resolve identity: empty name")
	}

	byName, err := db.FindStudentByName(r.Exec, canon)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}
	byAlias, err := db.FindStudentByAlias(r.Exec, canon)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	switch {
	case byName != nil && byAlias != nil && byName.ID != byAlias.ID:
		return nil, fmt.Errorf("%q names student %d and aliases student %d: %w", canon, byName.ID, byAlias.ID, ErrAmbiguousIdentity)
	case byName != nil:
		return byName, nil
	case byAlias != nil:
		return byAlias, nil
	}
	return nil, fmt.Errorf("student %q: %w", canon, db.ErrNotFound)
}

// Resolve returns the student id for name, creating the student with no
// start date when nothing matches.
func (r *Resolver) Resolve(name string) (id int64, created bool, err error) {
	s, err := r.Lookup(name)
	if err == nil {
		return s.ID, false, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return 0, false, err
	}
	return db.CreateOrGetStudent(r.Exec, Canonicalize(name))
}

// Aliases maps each canonical alias to the canonical name of the student it
// resolves to.
func (r *Resolver) Aliases() (map[string]string, error) {
	targets, err := db.AliasTargets(r.Exec)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(targets))
	for alias, name := range targets {
		out[Canonicalize(alias)] = Canonicalize(name)
	}
	return out, nil
}

// AddAlias registers alias as another name for studentID. An alias that is
// already some other student's canonical name is rejected.
func (r *Resolver) AddAlias(alias string, studentID int64) error {
	canon := Canonicalize(alias)
	if canon == "" {
		return fmt.Errorf("add alias: empty alias")
	}
	if _, err := db.GetStudent(r.Exec, studentID); err != nil {
		return err
	}
	owner, err := db.FindStudentByName(r.Exec, canon)
	if err == nil && owner.ID != studentID {
		return fmt.Errorf("alias %q is the name of student %d: %w", canon, owner.ID, ErrAmbiguousIdentity)
	}
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return err
	}
	if err == nil {
		// Alias equals the student's own name; nothing to record.
		return nil
	}
	return db.AddAlias(r.Exec, canon, studentID)
}

// Merge folds the student named drop into the student named keep.
// Both names must already resolve. Run it inside a transaction.
func (r *Resolver) Merge(keep, drop string) (keepID int64, err error) {
	k, err := r.Lookup(keep)
	if err != nil {
		return 0, fmt.Errorf("merge keep: %w", err)
	}
	d, err := r.Lookup(drop)
	if err != nil {
		return 0, fmt.Errorf("merge drop: %w", err)
	}
	if k.ID == d.ID {
		return k.ID, nil
	}
	if err := db.MergeStudents(r.Exec, k.ID, d.ID); err != nil {
		return 0, err
	}
	return k.ID, nil
}
