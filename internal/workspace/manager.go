// Package workspace manages the scratch directory jobs write into and the
// library directory finished artifacts are published to. It owns reservation
// of per-job temp paths, atomic publication, quota eviction, and retention.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"mediamill/internal/config"
	"mediamill/internal/fileutil"
	"mediamill/internal/logging"
	"mediamill/internal/queue"
	"mediamill/internal/services"
)

// Reservation names the scratch locations handed to a worker. The temp path
// carries a unique suffix so two workers can never collide, and the .part
// extension marks files that must not be treated as finished artifacts.
type Reservation struct {
	JobID    int64
	Dir      string
	TempPath string
}

// Manager coordinates scratch space and published artifacts.
type Manager struct {
	workspaceDir string
	libraryDir   string
	quotaBytes   int64
	retention    time.Duration
	logger       *slog.Logger
}

// NewManager constructs a workspace manager from configuration.
func NewManager(cfg *config.Config, logger *slog.Logger) *Manager {
	retention := time.Duration(cfg.Workspace.RetentionDays) * 24 * time.Hour
	return NewManagerAt(cfg.Paths.WorkspaceDir, cfg.Paths.LibraryDir, cfg.WorkspaceQuotaBytes(), retention, logger)
}

// NewManagerAt constructs a workspace manager over explicit directories with
// a quota given in bytes.
func NewManagerAt(workspaceDir, libraryDir string, quotaBytes int64, retention time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		workspaceDir: workspaceDir,
		libraryDir:   libraryDir,
		quotaBytes:   quotaBytes,
		retention:    retention,
		logger:       logging.NewComponentLogger(logger, "workspace"),
	}
}

// JobDir returns the scratch directory assigned to a job.
func (m *Manager) JobDir(jobID int64) string {
	return filepath.Join(m.workspaceDir, fmt.Sprintf("job-%d", jobID))
}

// Reserve allocates a scratch directory and unique temp path for the job.
// The quota is enforced before space is handed out; when eviction cannot
// bring usage under the budget the reservation fails with a resource error
// and the job can retry later.
func (m *Manager) Reserve(ctx context.Context, job *queue.Job) (*Reservation, error) {
	if err := m.enforceQuota(ctx); err != nil {
		return nil, err
	}

	dir := m.JobDir(job.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrIO, "workspace", "reserve",
			fmt.Sprintf("create job directory %s", dir), err)
	}

	token := uuid.NewString()[:8]
	tempPath := filepath.Join(dir, fmt.Sprintf("%d-%s%s.part", job.ID, token, job.OutputFormat.Extension()))
	return &Reservation{JobID: job.ID, Dir: dir, TempPath: tempPath}, nil
}

// Publish moves a finished artifact from scratch into the library with an
// atomic rename. The artifact only appears under its final name once it is
// complete; readers never observe a partially written file.
func (m *Manager) Publish(ctx context.Context, job *queue.Job, srcPath string) (string, error) {
	if _, err := os.Stat(srcPath); err != nil {
		if os.IsNotExist(err) {
			return "", services.Wrap(services.ErrNotFound, "workspace", "publish",
				fmt.Sprintf("no artifact to publish for job %d", job.ID), err)
		}
		return "", services.Wrap(services.ErrIO, "workspace", "publish", "stat artifact", err)
	}
	if err := os.MkdirAll(m.libraryDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrIO, "workspace", "publish", "create library directory", err)
	}

	finalPath := filepath.Join(m.libraryDir, m.artifactName(job))

	if err := os.Rename(srcPath, finalPath); err != nil {
		// Cross-device publish: stage a hidden copy next to the final
		// location, then rename within the library filesystem.
		staged := finalPath + ".part"
		if copyErr := fileutil.CopyFile(srcPath, staged); copyErr != nil {
			_ = os.Remove(staged)
			return "", services.Wrap(services.ErrIO, "workspace", "publish", "stage artifact in library", copyErr)
		}
		if renameErr := os.Rename(staged, finalPath); renameErr != nil {
			_ = os.Remove(staged)
			return "", services.Wrap(services.ErrIO, "workspace", "publish", "finalize artifact", renameErr)
		}
		_ = os.Remove(srcPath)
	}

	m.logger.Info("published artifact",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String("path", finalPath))
	return finalPath, nil
}

// Release removes the job's scratch directory, including any partial temp
// files left behind by an interrupted transfer. It is idempotent: releasing
// a job that holds no scratch space is a no-op.
func (m *Manager) Release(ctx context.Context, jobID int64) error {
	dir := m.JobDir(jobID)
	if err := os.RemoveAll(dir); err != nil {
		return services.Wrap(services.ErrIO, "workspace", "release",
			fmt.Sprintf("remove job directory %s", dir), err)
	}
	return nil
}

// Usage returns the bytes consumed by scratch space and published artifacts.
func (m *Manager) Usage() (int64, error) {
	scratch, err := fileutil.DirSize(m.workspaceDir)
	if err != nil {
		return 0, err
	}
	library, err := fileutil.DirSize(m.libraryDir)
	if err != nil {
		return 0, err
	}
	return scratch + library, nil
}

// FreeDiskBytes reports the free space on the filesystem backing the
// workspace.
func (m *Manager) FreeDiskBytes() (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(m.workspaceDir, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

// EnforceQuota brings workspace usage back under the configured budget by
// evicting the oldest published artifacts. Reserve calls it before handing
// out space, and the janitor calls it periodically so usage cannot sit over
// the bound between submissions. Returns a resource error when eviction
// cannot free enough space.
func (m *Manager) EnforceQuota(ctx context.Context) error {
	return m.enforceQuota(ctx)
}

func (m *Manager) enforceQuota(ctx context.Context) error {
	if m.quotaBytes <= 0 {
		return nil
	}
	usage, err := m.Usage()
	if err != nil {
		return services.Wrap(services.ErrIO, "workspace", "quota", "measure usage", err)
	}
	if usage < m.quotaBytes {
		return nil
	}

	// Target headroom below the bound, not the bound itself: evicting to
	// exactly the quota would leave the next reservation failing again
	// immediately, including when usage sits at the quota with zero overrun.
	headroom := m.quotaBytes / 10
	if headroom < 1 {
		headroom = 1
	}
	evicted, freed := m.evictOldest(usage - m.quotaBytes + headroom)
	if evicted > 0 {
		m.logger.Info("evicted published artifacts for quota",
			logging.Int("count", evicted),
			logging.Int64("freed_bytes", freed))
	}

	usage, err = m.Usage()
	if err != nil {
		return services.Wrap(services.ErrIO, "workspace", "quota", "measure usage", err)
	}
	if usage >= m.quotaBytes {
		return services.Wrap(services.ErrResourceExhausted, "workspace", "quota",
			fmt.Sprintf("workspace over budget (%d of %d bytes) and nothing left to evict", usage, m.quotaBytes), nil)
	}
	return nil
}

// evictOldest removes published artifacts oldest-first until the requested
// number of bytes has been reclaimed. In-flight scratch space is never
// touched.
func (m *Manager) evictOldest(wantBytes int64) (int, int64) {
	artifacts, err := m.listArtifacts()
	if err != nil {
		return 0, 0
	}
	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].ModTime.Before(artifacts[j].ModTime)
	})

	var evicted int
	var freed int64
	for _, artifact := range artifacts {
		if freed >= wantBytes {
			break
		}
		if err := os.Remove(artifact.Path); err != nil {
			m.logger.Warn("failed to evict artifact",
				logging.String("path", artifact.Path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check library_dir permissions"))
			continue
		}
		evicted++
		freed += artifact.Size
	}
	return evicted, freed
}

// PurgeExpired removes published artifacts older than the retention window
// and scratch directories whose jobs stopped long ago. Both are best effort.
func (m *Manager) PurgeExpired(ctx context.Context, staleScratchAge time.Duration) (int, error) {
	var removed int

	if m.retention > 0 {
		artifacts, err := m.listArtifacts()
		if err != nil {
			return 0, err
		}
		cutoff := time.Now().Add(-m.retention)
		for _, artifact := range artifacts {
			if artifact.ModTime.After(cutoff) {
				continue
			}
			if err := os.Remove(artifact.Path); err != nil {
				m.logger.Warn("failed to purge expired artifact",
					logging.String("path", artifact.Path),
					logging.Error(err))
				continue
			}
			removed++
			m.logger.Info("purged expired artifact",
				logging.String("path", artifact.Path),
				logging.Duration("age", time.Since(artifact.ModTime)))
		}
	}

	removed += m.cleanStaleScratch(staleScratchAge)
	return removed, nil
}

// cleanStaleScratch removes job directories that have not been touched for
// maxAge. Directories belonging to live jobs are refreshed by writes, so a
// stale mtime means the owning worker is gone.
func (m *Manager) cleanStaleScratch(maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}
	entries, err := os.ReadDir(m.workspaceDir)
	if err != nil {
		return 0
	}
	cutoff := time.Now().Add(-maxAge)

	var removed int
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "job-") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(m.workspaceDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			m.logger.Warn("failed to remove stale scratch directory",
				logging.String("path", path),
				logging.Error(err))
			continue
		}
		removed++
		m.logger.Info("removed stale scratch directory", logging.String("path", path))
	}
	return removed
}

type artifactInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
}

func (m *Manager) listArtifacts() ([]artifactInfo, error) {
	entries, err := os.ReadDir(m.libraryDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var artifacts []artifactInfo
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".part") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		artifacts = append(artifacts, artifactInfo{
			Path:    filepath.Join(m.libraryDir, entry.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return artifacts, nil
}

func (m *Manager) artifactName(job *queue.Job) string {
	base := filepath.Base(strings.TrimRight(job.Reference, "/"))
	if idx := strings.IndexAny(base, "?#"); idx >= 0 {
		base = base[:idx]
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = sanitizeName(base)
	if base == "" {
		base = "media"
	}
	return fmt.Sprintf("%s-%d%s", base, job.ID, job.OutputFormat.Extension())
}

func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "._")
}
