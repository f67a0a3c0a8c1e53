package database

import (
	"testing"
	"testing/fstest"
)

func TestPendingMigrationsSortedAndFiltered(t *testing.T) {
	fsys := fstest.MapFS{
		"002_indexes.up.sql":  {Data: []byte("SELECT 2")},
		"001_init.up.sql":     {Data: []byte("SELECT 1")},
		"001_init.down.sql":   {Data: []byte("SELECT 0")},
		"003_later.up.sql":    {Data: []byte("SELECT 3")},
		"README.md":           {Data: []byte("notes")},
		"nested/004_x.up.sql": {Data: []byte("SELECT 4")},
	}

	pending, err := PendingMigrations(fsys, map[string]bool{"002_indexes.up.sql": true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"001_init.up.sql", "003_later.up.sql"}
	if len(pending) != len(want) {
		t.Fatalf("pending = %v, want %v", pending, want)
	}
	for i := range want {
		if pending[i] != want[i] {
			t.Errorf("pending[%d] = %s, want %s", i, pending[i], want[i])
		}
	}
}
