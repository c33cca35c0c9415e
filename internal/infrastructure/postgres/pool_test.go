package postgres

import (
	"strings"
	"testing"
)

func TestEmbeddedMigrationsWellFormed(t *testing.T) {
	migs, err := loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(migs) == 0 {
		t.Fatal("no embedded migrations found")
	}

	for i, m := range migs {
		if m.version != i+1 {
			t.Errorf("migration %d has version %04d, want %04d", i, m.version, i+1)
		}
		body, err := migrationsFS.ReadFile(m.path)
		if err != nil {
			t.Fatalf("ReadFile(%s) error = %v", m.path, err)
		}
		if !strings.Contains(string(body), "CREATE TABLE") {
			t.Errorf("%s does not create a table", m.path)
		}
	}
}

func TestMigrationsCoverPlatformTables(t *testing.T) {
	migs, err := loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}

	var all strings.Builder
	for _, m := range migs {
		body, err := migrationsFS.ReadFile(m.path)
		if err != nil {
			t.Fatalf("ReadFile(%s) error = %v", m.path, err)
		}
		all.Write(body)
	}
	schema := all.String()

	tables := []string{"users", "pharmacies", "medicines", "prescriptions", "orders", "order_items", "outbox", "inbox", "audit_trail"}
	for _, table := range tables {
		if !strings.Contains(schema, "CREATE TABLE "+table+" ") && !strings.Contains(schema, "CREATE TABLE "+table+"\n") && !strings.Contains(schema, "CREATE TABLE "+table+"(") {
			t.Errorf("no migration creates table %q", table)
		}
	}

	// Constraint names are load-bearing: unique violations are translated
	// to user-facing messages by constraint name.
	constraints := []string{
		"users_email_key",
		"users_phone_number_key",
		"pharmacies_license_number_key",
		"pharmacies_contact_email_key",
		"unique_medicine_per_pharmacy",
		"audit_trail_event_id_key",
	}
	for _, c := range constraints {
		if !strings.Contains(schema, c) {
			t.Errorf("schema does not declare constraint %q", c)
		}
	}
}
