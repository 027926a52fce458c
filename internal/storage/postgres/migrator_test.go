package postgres

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestReadMigrationSet_OrderedPairs(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0002_cart_lines.up.sql": {
			Data: []byte("CREATE TABLE cart_lines_smoke (id INT);"),
		},
		"sql/migrations/0002_cart_lines.down.sql": {
			Data: []byte("DROP TABLE IF EXISTS cart_lines_smoke;"),
		},
		"sql/migrations/0001_variants.up.sql": {
			Data: []byte("CREATE TABLE variants_smoke (id INT);"),
		},
		"sql/migrations/0001_variants.down.sql": {
			Data: []byte("DROP TABLE IF EXISTS variants_smoke;"),
		},
	}

	set, err := readMigrationSet(fsys)
	if err != nil {
		t.Fatalf("readMigrationSet failed: %v", err)
	}
	if len(set) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(set))
	}

	// Сортировка по версии независимо от порядка файлов.
	if set[0].Version != 1 || set[0].Name != "variants" {
		t.Fatalf("unexpected first migration: %+v", set[0])
	}
	if set[1].Version != 2 || set[1].Name != "cart_lines" {
		t.Fatalf("unexpected second migration: %+v", set[1])
	}
	if !strings.Contains(set[0].UpSQL, "CREATE TABLE") || !strings.Contains(set[0].DownSQL, "DROP TABLE") {
		t.Fatalf("migration bodies not wired: %+v", set[0])
	}
}

func TestReadMigrationSet_Errors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		fsys    fstest.MapFS
		wantErr string
	}{
		{
			name: "missing down half",
			fsys: fstest.MapFS{
				"sql/migrations/0001_variants.up.sql": {Data: []byte("CREATE TABLE t (id INT);")},
			},
			wantErr: "both up and down",
		},
		{
			name: "invalid file name",
			fsys: fstest.MapFS{
				"sql/migrations/not_a_migration.sql": {Data: []byte("SELECT 1;")},
			},
			wantErr: "invalid migration file name",
		},
		{
			name: "empty body",
			fsys: fstest.MapFS{
				"sql/migrations/0001_variants.up.sql":   {Data: []byte("   \n")},
				"sql/migrations/0001_variants.down.sql": {Data: []byte("DROP TABLE t;")},
			},
			wantErr: "migration file is empty",
		},
		{
			name: "name mismatch within version",
			fsys: fstest.MapFS{
				"sql/migrations/0001_variants.up.sql": {Data: []byte("CREATE TABLE t (id INT);")},
				"sql/migrations/0001_other.down.sql":  {Data: []byte("DROP TABLE t;")},
			},
			wantErr: "name mismatch",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := readMigrationSet(tc.fsys)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not contain %q", err, tc.wantErr)
			}
		})
	}
}

func TestReadMigrationSet_EmbeddedSetIsValid(t *testing.T) {
	t.Parallel()

	set, err := readMigrationSet(migrationsFS)
	if err != nil {
		t.Fatalf("embedded migration set is broken: %v", err)
	}
	if len(set) == 0 {
		t.Fatal("embedded migration set is empty")
	}
	for i := 1; i < len(set); i++ {
		if set[i].Version <= set[i-1].Version {
			t.Fatalf("versions are not strictly increasing: %d then %d", set[i-1].Version, set[i].Version)
		}
	}
}
