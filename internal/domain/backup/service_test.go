package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medcore/hms/internal/platform/ws"
)

var backupClock = time.Date(2026, 7, 1, 2, 0, 0, 0, time.UTC)

// -- Mock Repository --

// mockRepo is mutex-guarded because the worker test reads it from the test
// goroutine while the worker mutates it.
type mockRepo struct {
	mu           sync.Mutex
	backups      map[uuid.UUID]*Backup
	backupOrder  []uuid.UUID
	restores     map[uuid.UUID]*RestoreRun
	restoreOrder []uuid.UUID
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		backups:  make(map[uuid.UUID]*Backup),
		restores: make(map[uuid.UUID]*RestoreRun),
	}
}

func (m *mockRepo) Create(_ context.Context, b *Backup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.backups[b.ID] = &cp
	m.backupOrder = append(m.backupOrder, b.ID)
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Backup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.backups[id]
	if !ok {
		return nil, ErrBackupNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *mockRepo) List(_ context.Context, limit, offset int) ([]*Backup, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Backup
	for _, id := range m.backupOrder {
		cp := *m.backups[id]
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (m *mockRepo) ClaimPending(_ context.Context) (*Backup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.backupOrder {
		b := m.backups[id]
		if b.Status != StatusPending {
			continue
		}
		b.Status = StatusInProgress
		started := backupClock
		b.StartedAt = &started
		cp := *b
		return &cp, nil
	}
	return nil, nil
}

func (m *mockRepo) MarkCompleted(_ context.Context, id uuid.UUID, filePath string, sizeBytes int64, checksum string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.backups[id]
	if !ok {
		return ErrBackupNotFound
	}
	b.Status = StatusCompleted
	b.FilePath = filePath
	b.SizeBytes = sizeBytes
	b.Checksum = checksum
	finished := backupClock
	b.FinishedAt = &finished
	return nil
}

func (m *mockRepo) MarkFailed(_ context.Context, id uuid.UUID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.backups[id]
	if !ok {
		return ErrBackupNotFound
	}
	b.Status = StatusFailed
	b.Error = errMsg
	finished := backupClock
	b.FinishedAt = &finished
	return nil
}

func (m *mockRepo) CancelPending(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.backups[id]
	if !ok || b.Status != StatusPending {
		return false, nil
	}
	b.Status = StatusCancelled
	return true, nil
}

func (m *mockRepo) CreateRestore(_ context.Context, r *RestoreRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.restores[r.ID] = &cp
	m.restoreOrder = append(m.restoreOrder, r.ID)
	return nil
}

func (m *mockRepo) GetRestore(_ context.Context, id uuid.UUID) (*RestoreRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.restores[id]
	if !ok {
		return nil, ErrRestoreNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockRepo) ListRestores(_ context.Context, limit, offset int) ([]*RestoreRun, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*RestoreRun
	for _, id := range m.restoreOrder {
		cp := *m.restores[id]
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (m *mockRepo) ClaimPendingRestore(_ context.Context) (*RestoreRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.restoreOrder {
		r := m.restores[id]
		if r.Status != StatusPending {
			continue
		}
		r.Status = StatusInProgress
		started := backupClock
		r.StartedAt = &started
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

func (m *mockRepo) MarkRestoreCompleted(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.restores[id]
	if !ok {
		return ErrRestoreNotFound
	}
	r.Status = StatusCompleted
	finished := backupClock
	r.FinishedAt = &finished
	return nil
}

func (m *mockRepo) MarkRestoreFailed(_ context.Context, id uuid.UUID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.restores[id]
	if !ok {
		return ErrRestoreNotFound
	}
	r.Status = StatusFailed
	r.Error = errMsg
	finished := backupClock
	r.FinishedAt = &finished
	return nil
}

// -- Fake Runner --

// fakeRunner writes a real file so fileDigest has something to hash.
type fakeRunner struct {
	content    []byte
	dumpErr    error
	restoreErr error
	dumpedTo   []string
	restored   []string
}

func (f *fakeRunner) Dump(_ context.Context, kind, destPath string) error {
	if f.dumpErr != nil {
		return f.dumpErr
	}
	f.dumpedTo = append(f.dumpedTo, destPath)
	return os.WriteFile(destPath, f.content, 0o600)
}

func (f *fakeRunner) Restore(_ context.Context, srcPath string) error {
	if f.restoreErr != nil {
		return f.restoreErr
	}
	f.restored = append(f.restored, srcPath)
	return nil
}

// -- Test setup --

type testEnv struct {
	svc    *Service
	repo   *mockRepo
	runner *fakeRunner
	dir    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo := newMockRepo()
	runner := &fakeRunner{content: []byte("-- hospital dump payload --\n")}
	dir := t.TempDir()
	svc := NewService(repo, runner, dir, ws.NopPublisher{}, zerolog.Nop())
	svc.now = func() time.Time { return backupClock }
	return &testEnv{svc: svc, repo: repo, runner: runner, dir: dir}
}

func (env *testEnv) queue(t *testing.T, kind string) *Backup {
	t.Helper()
	b, err := env.svc.Request(context.Background(), kind, uuid.New())
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	return b
}

// completeBackup queues and runs one backup to completion.
func (env *testEnv) completeBackup(t *testing.T) *Backup {
	t.Helper()
	b := env.queue(t, KindFull)
	if ran, err := env.svc.RunNext(context.Background()); err != nil || !ran {
		t.Fatalf("RunNext: ran=%v err=%v", ran, err)
	}
	done, err := env.svc.Get(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if done.Status != StatusCompleted {
		t.Fatalf("backup not completed: %s (%s)", done.Status, done.Error)
	}
	return done
}

// -- Tests --

func TestRequest_QueuesPending(t *testing.T) {
	env := newTestEnv(t)

	b := env.queue(t, KindData)
	if b.Status != StatusPending {
		t.Errorf("expected PENDING, got %s", b.Status)
	}
	if b.Kind != KindData {
		t.Errorf("expected DATA kind, got %s", b.Kind)
	}
	if b.FilePath != "" || b.SizeBytes != 0 {
		t.Errorf("queued backup should have no artifact yet: %q/%d", b.FilePath, b.SizeBytes)
	}
}

func TestRequest_UnknownKind(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Request(context.Background(), "INCREMENTAL", uuid.New())
	if !errors.Is(err, ErrInvalidKind) {
		t.Fatalf("expected ErrInvalidKind, got %v", err)
	}
}

func TestRunNext_CompletesBackup(t *testing.T) {
	env := newTestEnv(t)
	b := env.queue(t, KindFull)

	ran, err := env.svc.RunNext(context.Background())
	if err != nil || !ran {
		t.Fatalf("RunNext: ran=%v err=%v", ran, err)
	}

	done, err := env.svc.Get(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if done.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (%s)", done.Status, done.Error)
	}
	if done.StartedAt == nil || done.FinishedAt == nil {
		t.Error("expected started_at and finished_at to be stamped")
	}
	if filepath.Dir(done.FilePath) != env.dir {
		t.Errorf("artifact written outside backup dir: %s", done.FilePath)
	}
	if !strings.Contains(filepath.Base(done.FilePath), "backup-FULL-") {
		t.Errorf("unexpected artifact name: %s", done.FilePath)
	}

	sum := sha256.Sum256(env.runner.content)
	if done.Checksum != hex.EncodeToString(sum[:]) {
		t.Errorf("checksum mismatch: %s", done.Checksum)
	}
	if done.SizeBytes != int64(len(env.runner.content)) {
		t.Errorf("expected size %d, got %d", len(env.runner.content), done.SizeBytes)
	}
}

func TestRunNext_OldestFirst(t *testing.T) {
	env := newTestEnv(t)
	first := env.queue(t, KindFull)
	second := env.queue(t, KindData)

	if ran, err := env.svc.RunNext(context.Background()); err != nil || !ran {
		t.Fatalf("RunNext: ran=%v err=%v", ran, err)
	}

	b1, _ := env.svc.Get(context.Background(), first.ID)
	b2, _ := env.svc.Get(context.Background(), second.ID)
	if b1.Status != StatusCompleted {
		t.Errorf("oldest job should run first, got %s", b1.Status)
	}
	if b2.Status != StatusPending {
		t.Errorf("newer job should still be queued, got %s", b2.Status)
	}
}

func TestRunNext_RunnerFailureMarksFailed(t *testing.T) {
	env := newTestEnv(t)
	env.runner.dumpErr = errors.New("pg_dump: connection refused")
	b := env.queue(t, KindFull)

	ran, err := env.svc.RunNext(context.Background())
	if err != nil || !ran {
		t.Fatalf("RunNext: ran=%v err=%v", ran, err)
	}

	failed, err := env.svc.Get(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if failed.Status != StatusFailed {
		t.Fatalf("expected FAILED, got %s", failed.Status)
	}
	if !strings.Contains(failed.Error, "connection refused") {
		t.Errorf("expected runner error recorded, got %q", failed.Error)
	}
}

func TestRunNext_EmptyQueue(t *testing.T) {
	env := newTestEnv(t)

	ran, err := env.svc.RunNext(context.Background())
	if err != nil {
		t.Fatalf("RunNext: %v", err)
	}
	if ran {
		t.Error("expected no job to run on empty queues")
	}
}

func TestCancel_PendingOnly(t *testing.T) {
	env := newTestEnv(t)
	b := env.queue(t, KindFull)

	cancelled, err := env.svc.Cancel(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("expected CANCELLED, got %s", cancelled.Status)
	}

	if _, err := env.svc.Cancel(context.Background(), b.ID); !errors.Is(err, ErrBackupState) {
		t.Errorf("second cancel should conflict, got %v", err)
	}
}

func TestCancel_InProgressConflicts(t *testing.T) {
	env := newTestEnv(t)
	b := env.queue(t, KindFull)
	if _, err := env.repo.ClaimPending(context.Background()); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if _, err := env.svc.Cancel(context.Background(), b.ID); !errors.Is(err, ErrBackupState) {
		t.Errorf("expected ErrBackupState, got %v", err)
	}
}

func TestCancel_Missing(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.svc.Cancel(context.Background(), uuid.New()); !errors.Is(err, ErrBackupNotFound) {
		t.Errorf("expected ErrBackupNotFound, got %v", err)
	}
}

func TestRestore_RequiresCompletedSource(t *testing.T) {
	env := newTestEnv(t)
	pending := env.queue(t, KindFull)

	if _, err := env.svc.Restore(context.Background(), pending.ID, uuid.New()); !errors.Is(err, ErrBackupState) {
		t.Errorf("expected ErrBackupState for pending source, got %v", err)
	}
	if _, err := env.svc.Restore(context.Background(), uuid.New(), uuid.New()); !errors.Is(err, ErrBackupNotFound) {
		t.Errorf("expected ErrBackupNotFound, got %v", err)
	}
}

func TestRunNext_RestoreReplaysArtifact(t *testing.T) {
	env := newTestEnv(t)
	done := env.completeBackup(t)

	run, err := env.svc.Restore(context.Background(), done.ID, uuid.New())
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if run.Status != StatusPending {
		t.Fatalf("expected queued restore, got %s", run.Status)
	}

	if ran, err := env.svc.RunNext(context.Background()); err != nil || !ran {
		t.Fatalf("RunNext: ran=%v err=%v", ran, err)
	}

	finished, err := env.svc.GetRestore(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetRestore: %v", err)
	}
	if finished.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED restore, got %s (%s)", finished.Status, finished.Error)
	}
	if len(env.runner.restored) != 1 || env.runner.restored[0] != done.FilePath {
		t.Errorf("restore should replay the backup artifact, got %v", env.runner.restored)
	}
}

func TestRunNext_RestoreFailureMarksFailed(t *testing.T) {
	env := newTestEnv(t)
	done := env.completeBackup(t)

	env.runner.restoreErr = errors.New("pg_restore: tablespace missing")
	run, err := env.svc.Restore(context.Background(), done.ID, uuid.New())
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if ran, err := env.svc.RunNext(context.Background()); err != nil || !ran {
		t.Fatalf("RunNext: ran=%v err=%v", ran, err)
	}

	failed, err := env.svc.GetRestore(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetRestore: %v", err)
	}
	if failed.Status != StatusFailed {
		t.Fatalf("expected FAILED, got %s", failed.Status)
	}
	if !strings.Contains(failed.Error, "tablespace missing") {
		t.Errorf("expected restore error recorded, got %q", failed.Error)
	}
}

func TestRunNext_BackupsBeforeRestores(t *testing.T) {
	env := newTestEnv(t)
	done := env.completeBackup(t)

	run, err := env.svc.Restore(context.Background(), done.ID, uuid.New())
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	queued := env.queue(t, KindData)

	if ran, err := env.svc.RunNext(context.Background()); err != nil || !ran {
		t.Fatalf("RunNext: ran=%v err=%v", ran, err)
	}

	b, _ := env.svc.Get(context.Background(), queued.ID)
	r, _ := env.svc.GetRestore(context.Background(), run.ID)
	if b.Status != StatusCompleted {
		t.Errorf("backup should claim first, got %s", b.Status)
	}
	if r.Status != StatusPending {
		t.Errorf("restore should wait its turn, got %s", r.Status)
	}
}

func TestWorker_DrainsQueue(t *testing.T) {
	env := newTestEnv(t)
	first := env.queue(t, KindFull)
	second := env.queue(t, KindData)

	w := NewWorker(env.svc, time.Millisecond, zerolog.Nop())
	w.Start()
	defer w.Stop()

	deadline := time.After(2 * time.Second)
	for {
		b1, _ := env.svc.Get(context.Background(), first.ID)
		b2, _ := env.svc.Get(context.Background(), second.ID)
		if b1.Status == StatusCompleted && b2.Status == StatusCompleted {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("worker did not drain queue: %s/%s", b1.Status, b2.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}
}
