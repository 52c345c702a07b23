package credentials

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"batchgen/internal/sqlinline"
)

type stubExecutor struct {
	rows [][]any
	err  error
	exec struct {
		query string
		args  []any
	}
	queryArgs []any
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.exec.query = query
	s.exec.args = args
	return pgconn.CommandTag{}, s.err
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	return nil
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	s.queryArgs = args
	if s.err != nil {
		return nil, s.err
	}
	return &stubRows{rows: s.rows, idx: -1}, nil
}

type stubRows struct {
	rows [][]any
	idx  int
}

func (r *stubRows) Close()                                       {}
func (r *stubRows) Err() error                                   { return nil }
func (r *stubRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *stubRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *stubRows) Values() ([]any, error)                       { return r.rows[r.idx], nil }
func (r *stubRows) RawValues() [][]byte                          { return nil }
func (r *stubRows) Conn() *pgx.Conn                              { return nil }

func (r *stubRows) Next() bool {
	r.idx++
	return r.idx < len(r.rows)
}

func (r *stubRows) Scan(dest ...any) error {
	row := r.rows[r.idx]
	if len(dest) != len(row) {
		return fmt.Errorf("expected %d dest, got %d", len(row), len(dest))
	}
	for i, d := range dest {
		switch ptr := d.(type) {
		case *string:
			*ptr = row[i].(string)
		case **time.Time:
			if row[i] == nil {
				*ptr = nil
				continue
			}
			v := row[i].(time.Time)
			*ptr = &v
		default:
			return fmt.Errorf("unsupported dest %T", d)
		}
	}
	return nil
}

func TestLibraryList(t *testing.T) {
	used := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	exec := &stubExecutor{rows: [][]any{
		{"main", " sk-main ", "dashscope", used},
		{"spare", "sk-spare", "dashscope", nil},
	}}
	lib := NewLibrarySource(exec, " dashscope ")
	entries, err := lib.List(context.Background())
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Secret != "sk-main" || !entries[0].LastUsed.Equal(used) {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if !entries[1].LastUsed.IsZero() || entries[1].Source != "credential_library" {
		t.Fatalf("unexpected second entry: %+v", entries[1])
	}
	if len(exec.queryArgs) != 1 || exec.queryArgs[0] != "dashscope" {
		t.Fatalf("expected platform argument, got %v", exec.queryArgs)
	}
}

func TestLibraryListError(t *testing.T) {
	lib := NewLibrarySource(&stubExecutor{err: errors.New("down")}, "")
	if _, err := lib.List(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestLibraryAdd(t *testing.T) {
	exec := &stubExecutor{}
	lib := NewLibrarySource(exec, "dashscope")
	if err := lib.Add(context.Background(), " main ", "", " sk-main "); err != nil {
		t.Fatalf("Add error: %v", err)
	}
	if exec.exec.query != sqlinline.QUpsertCredential {
		t.Fatalf("unexpected query")
	}
	want := []any{"main", "sk-main", "dashscope"}
	for i := range want {
		if exec.exec.args[i] != want[i] {
			t.Fatalf("arg %d: expected %v, got %v", i, want[i], exec.exec.args[i])
		}
	}
}

func TestLibraryAddValidation(t *testing.T) {
	lib := NewLibrarySource(&stubExecutor{}, "")
	cases := []struct{ name, platform, secret string }{
		{"", "dashscope", "sk"},
		{"main", "dashscope", " "},
		{"main", "", "sk"},
	}
	for _, tc := range cases {
		if err := lib.Add(context.Background(), tc.name, tc.platform, tc.secret); err == nil {
			t.Fatalf("expected error for %+v", tc)
		}
	}
}

func TestLibraryRecordUse(t *testing.T) {
	exec := &stubExecutor{}
	lib := NewLibrarySource(exec, "dashscope")
	at := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

	if err := lib.RecordUse(context.Background(), Entry{Name: "x", Source: "env"}, at); err != nil {
		t.Fatalf("RecordUse error: %v", err)
	}
	if exec.exec.query != "" {
		t.Fatal("expected entries from other sources to be ignored")
	}

	entry := Entry{Name: "main", Platform: "dashscope", Source: lib.Name()}
	if err := lib.RecordUse(context.Background(), entry, at); err != nil {
		t.Fatalf("RecordUse error: %v", err)
	}
	if exec.exec.query != sqlinline.QTouchCredential || exec.exec.args[1] != "main" {
		t.Fatalf("unexpected touch call: %v", exec.exec.args)
	}
}

func TestEnvSourceSplitsLists(t *testing.T) {
	src := EnvSource{
		Vars: []string{"A", "B"},
		Lookup: func(k string) (string, bool) {
			switch k {
			case "A":
				return "k1,k2", true
			case "B":
				return " k3 ", true
			}
			return "", false
		},
	}
	entries, err := src.Candidates(context.Background())
	if err != nil {
		t.Fatalf("Candidates error: %v", err)
	}
	if len(entries) != 3 || entries[2].Secret != "k3" || entries[0].Name != "a#1" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}
