package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/sakif/profile-server/internal/apperror"
	"github.com/sakif/profile-server/internal/model"
	"github.com/sakif/profile-server/internal/repository/file"
	"github.com/sakif/profile-server/internal/repository/sqlite"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// fakePersister keeps the "persisted" profile in memory and can be told to
// fail, which is how we simulate a full disk or a permissions error.
type fakePersister struct {
	mu        sync.Mutex
	saved     *model.Profile
	loadErr   error
	saveErr   error
	removeErr error
}

func (f *fakePersister) Load(_ context.Context) (*model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	if f.saved == nil {
		return nil, nil
	}
	p := *f.saved
	return &p, nil
}

func (f *fakePersister) Save(_ context.Context, p *model.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	copied := *p
	f.saved = &copied
	return nil
}

func (f *fakePersister) Remove(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	f.saved = nil
	return nil
}

func (f *fakePersister) Close() error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

const testPath = "/data/profile.json"

// newFileStore returns a Store backed by a JSON file on an in-memory filesystem.
func newFileStore(t *testing.T, fsys afero.Fs, opts ...Option) *Store {
	t.Helper()
	s := New(context.Background(), file.NewWithFs(fsys, testPath), testLogger(), opts...)
	t.Cleanup(func() { s.Close() })
	return s
}

func ada() model.Profile {
	return model.Profile{
		Handle:      "ada",
		FirstName:   "Ada",
		LastName:    "Lovelace",
		CompanyName: "Analytical Engines Ltd",
		Website:     "https://ada.dev",
		ImageURL:    "https://ada.dev/me.png",
	}
}

func grace() model.Profile {
	return model.Profile{Handle: "grace", LastName: "Hopper"}
}

// =========================================================================
// LIFECYCLE TESTS
// =========================================================================

func TestGet_AbsentBeforeCreation(t *testing.T) {
	s := newFileStore(t, afero.NewMemMapFs())

	if p, ok := s.Get(); ok {
		t.Errorf("Get() = %+v, true; want absent on a fresh store", p)
	}
}

func TestPut_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		profile model.Profile
	}{
		{name: "all fields", profile: ada()},
		{name: "only handle", profile: model.Profile{Handle: "solo"}},
		{name: "some optional fields", profile: grace()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newFileStore(t, afero.NewMemMapFs())

			if err := s.Put(context.Background(), tt.profile); err != nil {
				t.Fatalf("Put() error = %v", err)
			}

			got, ok := s.Get()
			if !ok {
				t.Fatal("Get() reported absent after Put()")
			}
			if diff := cmp.Diff(tt.profile, got); diff != "" {
				t.Errorf("Get() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPut_OverwriteWins(t *testing.T) {
	s := newFileStore(t, afero.NewMemMapFs())
	ctx := context.Background()

	if err := s.Put(ctx, ada()); err != nil {
		t.Fatalf("Put(ada) error = %v", err)
	}
	if err := s.Put(ctx, grace()); err != nil {
		t.Fatalf("Put(grace) error = %v", err)
	}

	got, _ := s.Get()
	// grace has no FirstName: nothing from ada may survive the replace.
	if diff := cmp.Diff(grace(), got); diff != "" {
		t.Errorf("Get() merged fields (-want +got):\n%s", diff)
	}
}

func TestDelete_Clears(t *testing.T) {
	fsys := afero.NewMemMapFs()
	s := newFileStore(t, fsys)
	ctx := context.Background()

	if err := s.Put(ctx, ada()); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := s.Delete(ctx); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, ok := s.Get(); ok {
		t.Error("Get() found a profile after Delete()")
	}
	if exists, _ := afero.Exists(fsys, testPath); exists {
		t.Error("backing file still exists after Delete()")
	}
}

func TestDelete_WhenAbsent(t *testing.T) {
	s := newFileStore(t, afero.NewMemMapFs())

	if err := s.Delete(context.Background()); err != nil {
		t.Errorf("Delete() on empty store error = %v, want nil", err)
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	s := newFileStore(t, afero.NewMemMapFs())
	if err := s.Put(context.Background(), ada()); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, _ := s.Get()
	got.Handle = "mallory"

	again, _ := s.Get()
	if again.Handle != "ada" {
		t.Errorf("mutating a Get() result changed the store: Handle = %q", again.Handle)
	}
}

// =========================================================================
// PERSISTENCE TESTS
// =========================================================================

func TestPersistenceAcrossRestart(t *testing.T) {
	fsys := afero.NewMemMapFs()

	first := New(context.Background(), file.NewWithFs(fsys, testPath), testLogger())
	if err := first.Put(context.Background(), ada()); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	first.Close()

	second := newFileStore(t, fsys)
	got, ok := second.Get()
	if !ok {
		t.Fatal("restarted store is empty")
	}
	if diff := cmp.Diff(ada(), got); diff != "" {
		t.Errorf("restarted store mismatch (-want +got):\n%s", diff)
	}
}

func TestCorruptFileTolerance(t *testing.T) {
	fsys := afero.NewMemMapFs()
	if err := afero.WriteFile(fsys, testPath, []byte(`{"handle": "ad`), 0o644); err != nil {
		t.Fatalf("seeding corrupt file: %v", err)
	}

	// Capture logs: a corrupt file must not fail startup, but must be reported.
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn}))

	s := New(context.Background(), file.NewWithFs(fsys, testPath), logger)
	defer s.Close()

	if p, ok := s.Get(); ok {
		t.Errorf("Get() = %+v, want absent after loading a corrupt file", p)
	}
	if !strings.Contains(logs.String(), "corrupt") {
		t.Errorf("expected a WARN about the corrupt file, got logs: %q", logs.String())
	}
}

func TestUnreadableFileTolerance(t *testing.T) {
	fp := &fakePersister{loadErr: errors.New("input/output error")}

	s := New(context.Background(), fp, testLogger())

	if _, ok := s.Get(); ok {
		t.Error("Get() found a profile although Load() failed")
	}
}

func TestFileMatchesMemoryAfterPut(t *testing.T) {
	fsys := afero.NewMemMapFs()
	s := newFileStore(t, fsys)

	if err := s.Put(context.Background(), grace()); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	onDisk, err := file.NewWithFs(fsys, testPath).Load(context.Background())
	if err != nil {
		t.Fatalf("reading file back: %v", err)
	}
	inMemory, _ := s.Get()
	if diff := cmp.Diff(inMemory, *onDisk); diff != "" {
		t.Errorf("memory and disk diverged (-memory +disk):\n%s", diff)
	}
}

// =========================================================================
// WRITE POLICY TESTS
// =========================================================================

func TestWriteThrough_FailedSaveKeepsPrevious(t *testing.T) {
	fp := &fakePersister{}
	s := New(context.Background(), fp, testLogger())
	ctx := context.Background()

	if err := s.Put(ctx, ada()); err != nil {
		t.Fatalf("Put(ada) error = %v", err)
	}

	fp.saveErr = errors.New("no space left on device")
	err := s.Put(ctx, grace())
	if !errors.Is(err, apperror.ErrStorage) {
		t.Fatalf("Put() error = %v, want ErrStorage", err)
	}

	got, _ := s.Get()
	if diff := cmp.Diff(ada(), got); diff != "" {
		t.Errorf("failed Put() changed memory (-want +got):\n%s", diff)
	}
}

func TestWriteThrough_FailedDeleteKeepsProfile(t *testing.T) {
	fp := &fakePersister{}
	s := New(context.Background(), fp, testLogger())
	ctx := context.Background()

	if err := s.Put(ctx, ada()); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	fp.removeErr = errors.New("permission denied")
	if err := s.Delete(ctx); !errors.Is(err, apperror.ErrStorage) {
		t.Fatalf("Delete() error = %v, want ErrStorage", err)
	}

	if _, ok := s.Get(); !ok {
		t.Error("failed Delete() cleared memory under write-through")
	}
}

func TestOptimistic_FailedSaveUpdatesMemory(t *testing.T) {
	fp := &fakePersister{saveErr: errors.New("no space left on device")}
	s := New(context.Background(), fp, testLogger(), WithWritePolicy(Optimistic))

	err := s.Put(context.Background(), ada())
	if !errors.Is(err, apperror.ErrStorage) {
		t.Fatalf("Put() error = %v, want ErrStorage", err)
	}

	got, ok := s.Get()
	if !ok {
		t.Fatal("optimistic Put() did not update memory")
	}
	if diff := cmp.Diff(ada(), got); diff != "" {
		t.Errorf("Get() mismatch (-want +got):\n%s", diff)
	}
}

func TestOptimistic_FailedDeleteClearsMemory(t *testing.T) {
	fp := &fakePersister{}
	s := New(context.Background(), fp, testLogger(), WithWritePolicy(Optimistic))
	ctx := context.Background()

	if err := s.Put(ctx, ada()); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	fp.removeErr = errors.New("permission denied")
	if err := s.Delete(ctx); !errors.Is(err, apperror.ErrStorage) {
		t.Fatalf("Delete() error = %v, want ErrStorage", err)
	}

	if _, ok := s.Get(); ok {
		t.Error("optimistic Delete() left the profile in memory")
	}
}

func TestWriteThrough_ReadOnlyFilesystem(t *testing.T) {
	s := newFileStore(t, afero.NewReadOnlyFs(afero.NewMemMapFs()))

	err := s.Put(context.Background(), ada())
	if !errors.Is(err, apperror.ErrStorage) {
		t.Fatalf("Put() error = %v, want ErrStorage", err)
	}
	if _, ok := s.Get(); ok {
		t.Error("Put() that failed to persist is visible to readers")
	}
}

func TestParseWritePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    WritePolicy
		wantErr bool
	}{
		{in: "", want: WriteThrough},
		{in: "write-through", want: WriteThrough},
		{in: "optimistic", want: Optimistic},
		{in: "yolo", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseWritePolicy(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseWritePolicy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseWritePolicy(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

// =========================================================================
// CONCURRENCY TESTS
// Run with -race to let the race detector check the locking too.
// =========================================================================

// numbered returns a profile whose every field encodes i, so a profile
// stitched together from two writers is easy to spot.
func numbered(i int) model.Profile {
	return model.Profile{
		Handle:      fmt.Sprintf("user-%d", i),
		FirstName:   fmt.Sprintf("first-%d", i),
		LastName:    fmt.Sprintf("last-%d", i),
		CompanyName: fmt.Sprintf("company-%d", i),
		Website:     fmt.Sprintf("https://example.com/%d", i),
		ImageURL:    fmt.Sprintf("https://example.com/%d.png", i),
	}
}

// indexOf returns the i that p was built from, or -1 if p is a hybrid.
func indexOf(p model.Profile) int {
	var i int
	if _, err := fmt.Sscanf(p.Handle, "user-%d", &i); err != nil {
		return -1
	}
	if p != numbered(i) {
		return -1
	}
	return i
}

func TestConcurrentPuts_LastWriterWinsWholly(t *testing.T) {
	const writers = 50

	fsys := afero.NewMemMapFs()
	s := newFileStore(t, fsys)
	ctx := context.Background()

	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			if err := s.Put(ctx, numbered(i)); err != nil {
				t.Errorf("Put(%d) error = %v", i, err)
			}
		}(i)
	}

	// Readers run alongside the writers and must never see a hybrid.
	for r := 0; r < 10; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for n := 0; n < 100; n++ {
				if p, ok := s.Get(); ok && indexOf(p) < 0 {
					t.Errorf("Get() observed a hybrid profile: %+v", p)
					return
				}
			}
		}()
	}

	close(start)
	wg.Wait()

	got, ok := s.Get()
	if !ok {
		t.Fatal("store is empty after concurrent puts")
	}
	if indexOf(got) < 0 {
		t.Fatalf("final profile is a hybrid: %+v", got)
	}

	onDisk, err := file.NewWithFs(fsys, testPath).Load(ctx)
	if err != nil {
		t.Fatalf("reading file back: %v", err)
	}
	if diff := cmp.Diff(got, *onDisk); diff != "" {
		t.Errorf("disk disagrees with memory after concurrent puts (-memory +disk):\n%s", diff)
	}
}

func TestConcurrentPutAndDelete_Consistent(t *testing.T) {
	fsys := afero.NewMemMapFs()
	s := newFileStore(t, fsys)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = s.Put(ctx, numbered(i))
		}(i)
		go func() {
			defer wg.Done()
			_ = s.Delete(ctx)
		}()
	}
	wg.Wait()

	// Whatever order the lock handed out, memory and disk must agree.
	onDisk, err := file.NewWithFs(fsys, testPath).Load(ctx)
	if err != nil {
		t.Fatalf("reading file back: %v", err)
	}
	got, ok := s.Get()
	switch {
	case !ok && onDisk != nil:
		t.Errorf("memory empty but disk holds %+v", *onDisk)
	case ok && onDisk == nil:
		t.Errorf("memory holds %+v but disk is empty", got)
	case ok && got != *onDisk:
		t.Errorf("memory %+v != disk %+v", got, *onDisk)
	}
}

// =========================================================================
// CANCELLATION TESTS
// =========================================================================

// A cancelled request context must not abort a mutation part-way. SQLite
// honours ctx in ExecContext, so it is the backend that would notice.
func TestMutations_IgnoreCancelledContext(t *testing.T) {
	for _, policy := range []WritePolicy{WriteThrough, Optimistic} {
		t.Run(policy.String(), func(t *testing.T) {
			db, err := sqlite.New(":memory:")
			if err != nil {
				t.Fatalf("sqlite.New() error = %v", err)
			}
			s := New(context.Background(), db, testLogger(), WithWritePolicy(policy))
			t.Cleanup(func() { s.Close() })

			cancelled, cancel := context.WithCancel(context.Background())
			cancel()

			if err := s.Put(cancelled, ada()); err != nil {
				t.Fatalf("Put() with cancelled ctx error = %v", err)
			}
			got, ok := s.Get()
			if !ok {
				t.Fatal("Get() absent after Put")
			}
			onDisk, err := db.Load(context.Background())
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if onDisk == nil {
				t.Fatal("disk is empty after a successful Put")
			}
			if diff := cmp.Diff(got, *onDisk); diff != "" {
				t.Errorf("memory and disk disagree (-memory +disk):\n%s", diff)
			}

			if err := s.Delete(cancelled); err != nil {
				t.Fatalf("Delete() with cancelled ctx error = %v", err)
			}
			if _, ok := s.Get(); ok {
				t.Error("Get() still present after Delete")
			}
			onDisk, err = db.Load(context.Background())
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if onDisk != nil {
				t.Errorf("disk still holds %+v after Delete", onDisk)
			}
		})
	}
}
