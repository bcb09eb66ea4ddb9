package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medcore/hms/internal/platform/metrics"
	"github.com/medcore/hms/internal/platform/ws"
)

type Service struct {
	repo   Repository
	runner Runner
	dir    string
	events ws.Publisher
	clinic *metrics.ClinicMetrics
	log    zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, runner Runner, dir string, events ws.Publisher, log zerolog.Logger) *Service {
	if events == nil {
		events = ws.NopPublisher{}
	}
	return &Service{
		repo:   repo,
		runner: runner,
		dir:    dir,
		events: events,
		log:    log,
		now:    time.Now,
	}
}

// SetMetrics attaches run counters. Safe to skip in tests.
func (s *Service) SetMetrics(clinic *metrics.ClinicMetrics) { s.clinic = clinic }

// Request queues a backup. The worker picks it up on its next pass.
func (s *Service) Request(ctx context.Context, kind string, requestedBy uuid.UUID) (*Backup, error) {
	if !validKinds[kind] {
		return nil, ErrInvalidKind
	}

	now := s.now().UTC()
	b := &Backup{
		ID:          uuid.New(),
		Kind:        kind,
		Status:      StatusPending,
		RequestedBy: requestedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, b); err != nil {
		return nil, err
	}
	s.publishProgress(ctx, b.ID, "backup", StatusPending)
	s.log.Info().Str("backup_id", b.ID.String()).Str("kind", kind).Msg("backup queued")
	return b, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Backup, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Backup, int, error) {
	backups, total, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if backups == nil {
		backups = []*Backup{}
	}
	return backups, total, nil
}

// Cancel withdraws a backup the worker has not started yet.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Backup, error) {
	ok, err := s.repo.CancelPending(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Absent or already moving.
		if _, err := s.repo.GetByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrBackupState
	}
	s.publishProgress(ctx, id, "backup", StatusCancelled)
	return s.repo.GetByID(ctx, id)
}

// Restore queues a restore run from a completed backup.
func (s *Service) Restore(ctx context.Context, backupID uuid.UUID, requestedBy uuid.UUID) (*RestoreRun, error) {
	b, err := s.repo.GetByID(ctx, backupID)
	if err != nil {
		return nil, err
	}
	if b.Status != StatusCompleted {
		return nil, ErrBackupState
	}

	run := &RestoreRun{
		ID:          uuid.New(),
		BackupID:    backupID,
		Status:      StatusPending,
		RequestedBy: requestedBy,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.CreateRestore(ctx, run); err != nil {
		return nil, err
	}
	s.publishProgress(ctx, run.ID, "restore", StatusPending)
	s.log.Info().
		Str("restore_id", run.ID.String()).
		Str("backup_id", backupID.String()).
		Msg("restore queued")
	return run, nil
}

func (s *Service) GetRestore(ctx context.Context, id uuid.UUID) (*RestoreRun, error) {
	return s.repo.GetRestore(ctx, id)
}

func (s *Service) ListRestores(ctx context.Context, limit, offset int) ([]*RestoreRun, int, error) {
	runs, total, err := s.repo.ListRestores(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if runs == nil {
		runs = []*RestoreRun{}
	}
	return runs, total, nil
}

// RunNext claims and executes one queued job, backups before restores.
// Returns false when both queues are empty. The worker loops this; tests
// call it directly.
func (s *Service) RunNext(ctx context.Context) (bool, error) {
	b, err := s.repo.ClaimPending(ctx)
	if err != nil {
		return false, err
	}
	if b != nil {
		s.runBackup(ctx, b)
		return true, nil
	}

	run, err := s.repo.ClaimPendingRestore(ctx)
	if err != nil {
		return false, err
	}
	if run != nil {
		s.runRestore(ctx, run)
		return true, nil
	}
	return false, nil
}

func (s *Service) runBackup(ctx context.Context, b *Backup) {
	s.publishProgress(ctx, b.ID, "backup", StatusInProgress)

	dest := filepath.Join(s.dir, fmt.Sprintf("backup-%s-%s-%s.dump",
		b.Kind, s.now().UTC().Format("20060102-150405"), shortID(b.ID)))

	if err := s.runner.Dump(ctx, b.Kind, dest); err != nil {
		s.finishBackup(ctx, b.ID, err)
		return
	}
	size, checksum, err := fileDigest(dest)
	if err != nil {
		s.finishBackup(ctx, b.ID, err)
		return
	}

	if err := s.repo.MarkCompleted(ctx, b.ID, dest, size, checksum); err != nil {
		s.log.Error().Err(err).Str("backup_id", b.ID.String()).Msg("record backup completion")
		return
	}
	s.clinic.ObserveBackupRun(StatusCompleted)
	s.publishProgress(ctx, b.ID, "backup", StatusCompleted)
	s.log.Info().
		Str("backup_id", b.ID.String()).
		Int64("size_bytes", size).
		Msg("backup completed")
}

func (s *Service) finishBackup(ctx context.Context, id uuid.UUID, runErr error) {
	if err := s.repo.MarkFailed(ctx, id, runErr.Error()); err != nil {
		s.log.Error().Err(err).Str("backup_id", id.String()).Msg("record backup failure")
		return
	}
	s.clinic.ObserveBackupRun(StatusFailed)
	s.publishProgress(ctx, id, "backup", StatusFailed)
	s.log.Error().Err(runErr).Str("backup_id", id.String()).Msg("backup failed")
}

func (s *Service) runRestore(ctx context.Context, run *RestoreRun) {
	s.publishProgress(ctx, run.ID, "restore", StatusInProgress)

	b, err := s.repo.GetByID(ctx, run.BackupID)
	if err == nil {
		err = s.runner.Restore(ctx, b.FilePath)
	}
	if err != nil {
		if markErr := s.repo.MarkRestoreFailed(ctx, run.ID, err.Error()); markErr != nil {
			s.log.Error().Err(markErr).Str("restore_id", run.ID.String()).Msg("record restore failure")
			return
		}
		s.publishProgress(ctx, run.ID, "restore", StatusFailed)
		s.log.Error().Err(err).Str("restore_id", run.ID.String()).Msg("restore failed")
		return
	}

	if err := s.repo.MarkRestoreCompleted(ctx, run.ID); err != nil {
		s.log.Error().Err(err).Str("restore_id", run.ID.String()).Msg("record restore completion")
		return
	}
	s.publishProgress(ctx, run.ID, "restore", StatusCompleted)
	s.log.Info().Str("restore_id", run.ID.String()).Msg("restore completed")
}

func (s *Service) publishProgress(ctx context.Context, id uuid.UUID, jobType, status string) {
	event := ws.NewEvent(ws.EventBackupProgress, ws.TopicBackups, map[string]any{
		"job_id": id,
		"type":   jobType,
		"status": status,
	})
	if err := s.events.Publish(ctx, event); err != nil {
		s.log.Warn().Err(err).Msg("publish backup event")
	}
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}

func fileDigest(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", fmt.Errorf("open backup file: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return 0, "", fmt.Errorf("hash backup file: %w", err)
	}
	return size, hex.EncodeToString(h.Sum(nil)), nil
}
