package repository

import (
	"errors"
	"strings"
	"testing"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// dryRunDB builds SQL without a live connection, which is enough to check
// how parameters bind.
func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(postgres.New(postgres.Config{DSN: "host=localhost"}), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
	})
	if err != nil {
		t.Fatalf("failed to open dry-run db: %v", err)
	}
	return db
}

func TestTextArrayBindsAsSingleParameter(t *testing.T) {
	db := dryRunDB(t)

	var records []linkModel
	tx := db.Raw(
		"SELECT * FROM episode_links WHERE src_episode_id = ANY(?::text[]) LIMIT ?",
		textArray([]string{"rain", "thunder"}), 5).
		Scan(&records)
	if tx.Error != nil && !errors.Is(tx.Error, gorm.ErrDryRunModeUnsupported) {
		t.Fatalf("dry run failed: %v", tx.Error)
	}

	// A bare []string here would expand into one placeholder per element,
	// handing ANY() an argument list instead of an array.
	sql := tx.Statement.SQL.String()
	if !strings.Contains(sql, "ANY($1::text[])") {
		t.Fatalf("expected the token set to bind as one parameter, got %q", sql)
	}
	if len(tx.Statement.Vars) != 2 {
		t.Fatalf("expected 2 bound vars, got %v", tx.Statement.Vars)
	}
}

func TestTextArrayLiteral(t *testing.T) {
	if got := textArray([]string{"rain", "wet pine"}); got != `{"rain","wet pine"}` {
		t.Fatalf("unexpected literal: %q", got)
	}
	if got := textArray([]string{`he said "now"`, `back\slash`}); got != `{"he said \"now\"","back\\slash"}` {
		t.Fatalf("unexpected escaping: %q", got)
	}
	if got := textArray(nil); got != "{}" {
		t.Fatalf("expected empty literal, got %q", got)
	}
}
