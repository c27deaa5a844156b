package watcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jobrunner/gpkgindex/internal/adapters/sidestore"
	"github.com/jobrunner/gpkgindex/internal/domain"
)

func TestFsnotifyOpToOperation(t *testing.T) {
	tests := []struct {
		name     string
		op       fsnotify.Op
		expected Operation
	}{
		{
			name:     "Remove returns OpDelete",
			op:       fsnotify.Remove,
			expected: OpDelete,
		},
		{
			name:     "Rename returns OpDelete",
			op:       fsnotify.Rename,
			expected: OpDelete,
		},
		{
			name:     "Create returns OpCreate",
			op:       fsnotify.Create,
			expected: OpCreate,
		},
		{
			name:     "Write returns OpModify",
			op:       fsnotify.Write,
			expected: OpModify,
		},
		{
			name:     "Chmod returns OpModify",
			op:       fsnotify.Chmod,
			expected: OpModify,
		},
		{
			name:     "Remove takes precedence over Write",
			op:       fsnotify.Remove | fsnotify.Write,
			expected: OpDelete,
		},
		{
			name:     "Rename takes precedence over Create",
			op:       fsnotify.Rename | fsnotify.Create,
			expected: OpDelete,
		},
		{
			name:     "Create takes precedence over Write",
			op:       fsnotify.Create | fsnotify.Write,
			expected: OpCreate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := fsnotifyOpToOperation(tt.op)
			if result != tt.expected {
				t.Errorf("fsnotifyOpToOperation(%v) = %v, want %v", tt.op, result, tt.expected)
			}
		})
	}
}

func TestOperationString(t *testing.T) {
	tests := []struct {
		op       Operation
		expected string
	}{
		{OpCreate, "create"},
		{OpModify, "modify"},
		{OpDelete, "delete"},
		{Operation(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.op.String(); got != tt.expected {
				t.Errorf("Operation.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func newTestWatcher(t *testing.T) *Watcher {
	t.Helper()
	w, err := New(Config{Debounce: time.Second}, func(context.Context, Event) error { return nil },
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func TestRecordDebounce(t *testing.T) {
	w := newTestWatcher(t)
	start := time.Now()

	w.record("/data/roads.gpkg", OpCreate, start)
	w.record("/data/roads.gpkg", OpModify, start.Add(100*time.Millisecond))
	w.record("/data/roads.idx.sqlite", OpModify, start)
	w.record("/data/.roads.gpkg.42.part", OpCreate, start)
	w.record("/data/rivers.gpkg", OpDelete, start)

	if got := w.settled(start.Add(500 * time.Millisecond)); len(got) != 0 {
		t.Errorf("settled before debounce = %v, want none", got)
	}

	got := w.settled(start.Add(1100 * time.Millisecond))
	if len(got) != 1 || got[0] != (Event{Path: "/data/rivers.gpkg", Operation: OpDelete}) {
		t.Errorf("settled = %v, want only rivers delete", got)
	}

	got = w.settled(start.Add(2 * time.Second))
	if len(got) != 1 || got[0].Path != "/data/roads.gpkg" || got[0].Operation != OpCreate {
		t.Errorf("settled = %v, want roads create", got)
	}

	if got := w.settled(start.Add(time.Hour)); len(got) != 0 {
		t.Errorf("events must be delivered once, got %v", got)
	}
}

func TestRecordMerge(t *testing.T) {
	tests := []struct {
		name string
		ops  []Operation
		want Operation
	}{
		{"delete wins over modify", []Operation{OpModify, OpDelete}, OpDelete},
		{"recreated after delete", []Operation{OpDelete, OpCreate}, OpCreate},
		{"written after delete", []Operation{OpDelete, OpModify}, OpCreate},
		{"modify after create", []Operation{OpCreate, OpModify}, OpCreate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newTestWatcher(t)
			now := time.Now()
			for _, op := range tt.ops {
				w.record("a.gpkg", op, now)
			}
			got := w.settled(now.Add(time.Hour))
			if len(got) != 1 || got[0].Operation != tt.want {
				t.Errorf("settled = %v, want %v", got, tt.want)
			}
		})
	}
}

type fakeLoader struct {
	reloaded []string
	unloaded []string
	err      error
}

func (f *fakeLoader) ReloadPackage(_ context.Context, path string) error {
	f.reloaded = append(f.reloaded, path)
	return f.err
}

func (f *fakeLoader) UnloadPackage(_ context.Context, id string) error {
	f.unloaded = append(f.unloaded, id)
	return f.err
}

func TestReloader(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	path := filepath.Join(dir, "roads.gpkg")

	sideStore := sidestore.Path(dir, "roads")
	if err := os.WriteFile(sideStore, []byte("index"), 0o600); err != nil {
		t.Fatal(err)
	}

	loader := &fakeLoader{}
	r := NewReloader(loader, "", logger)

	if err := r.Handle(ctx, Event{Path: path, Operation: OpModify}); err != nil {
		t.Fatalf("Handle(modify) error = %v", err)
	}
	if len(loader.reloaded) != 1 || loader.reloaded[0] != path {
		t.Errorf("reloaded = %v", loader.reloaded)
	}

	if err := r.Handle(ctx, Event{Path: path, Operation: OpDelete}); err != nil {
		t.Fatalf("Handle(delete) error = %v", err)
	}
	if len(loader.unloaded) != 1 || loader.unloaded[0] != "roads" {
		t.Errorf("unloaded = %v", loader.unloaded)
	}
	if _, err := os.Stat(sideStore); !errors.Is(err, os.ErrNotExist) {
		t.Error("side store file should be removed with the package")
	}
}

func TestReloaderUnknownPackage(t *testing.T) {
	loader := &fakeLoader{err: domain.ErrPackageNotFound}
	r := NewReloader(loader, t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := r.Handle(context.Background(), Event{Path: "/gone/rivers.gpkg", Operation: OpDelete}); err != nil {
		t.Errorf("deleting an unloaded package should not fail, got %v", err)
	}

	loader.err = errors.New("boom")
	if err := r.Handle(context.Background(), Event{Path: "/gone/rivers.gpkg", Operation: OpCreate}); err == nil {
		t.Error("reload errors are returned")
	}
}
