package sqliteutil

import (
	"path/filepath"
	"testing"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain path",
			in:   "widget.db",
			want: "file:widget.db?_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)",
		},
		{
			name: "memory uri",
			in:   "file:mem1?mode=memory&cache=shared",
			want: "file:mem1?mode=memory&cache=shared&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		},
		{
			name: "uri without query",
			in:   "file:widget.db",
			want: "file:widget.db?_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := dsn(tt.in); got != tt.want {
				t.Errorf("dsn(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	var one int
	if err := db.QueryRow("SELECT 1").Scan(&one); err != nil {
		t.Fatalf("query: %v", err)
	}
	if one != 1 {
		t.Errorf("SELECT 1 = %d", one)
	}
}
