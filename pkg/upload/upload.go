// Package upload is the Chunk Upload Manager of spec.md §4.8: resumable,
// chunked file uploads into a per-user scratch area, assembled into the
// user's workspace on completion. Grounded on pkg/sandbox's ownerKey-keyed
// manager shape (a lazily-created per-key mutex guarding a small durable
// record) and on pkg/session's ownership-prefix check, generalized from a
// thread id prefix to an explicit UserID field on the persisted session
// record since upload ids have no natural per-user namespace of their own.
package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skillforge/skillforge/pkg/httperr"
	"github.com/skillforge/skillforge/pkg/models"
)

const metaFilename = "meta.json"

// Manager drives chunked uploads: init/saveChunk/progress/complete/cancel,
// plus the startup cleanupStale sweep.
type Manager struct {
	scratchDir string
	baseDir    string
	chunkSize  int64
	simpleMax  int64
	staleTTL   time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Manager. scratchDir holds in-flight upload sessions;
// baseDir is the root under which each user's files live at
// "{baseDir}/{userId}/...".
func New(scratchDir, baseDir string, chunkSizeBytes, simpleMaxBytes int64, staleSessionTTL time.Duration) *Manager {
	return &Manager{
		scratchDir: scratchDir,
		baseDir:    baseDir,
		chunkSize:  chunkSizeBytes,
		simpleMax:  simpleMaxBytes,
		staleTTL:   staleSessionTTL,
		locks:      make(map[string]*sync.Mutex),
	}
}

// ChunkSize returns the configured maximum chunk size in bytes.
func (m *Manager) ChunkSize() int64 { return m.chunkSize }

// SimpleMaxBytes returns the maximum size accepted by the non-chunked
// upload-simple endpoint.
func (m *Manager) SimpleMaxBytes() int64 { return m.simpleMax }

// CheckSimpleSize rejects sizes over the simple-endpoint cap with a hint
// to use the chunked flow instead (spec.md §4.8 invariants).
func (m *Manager) CheckSimpleSize(size int64) error {
	if size > m.simpleMax {
		return fmt.Errorf("file is %d bytes, over the %d byte simple-upload limit; use the chunked upload flow: %w", size, m.simpleMax, httperr.ErrPayloadTooLarge)
	}
	return nil
}

func (m *Manager) lockFor(uploadID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[uploadID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[uploadID] = l
	}
	return l
}

func (m *Manager) sessionDir(uploadID string) string {
	return filepath.Join(m.scratchDir, uploadID)
}

func (m *Manager) metaPath(uploadID string) string {
	return filepath.Join(m.sessionDir(uploadID), metaFilename)
}

func (m *Manager) chunkPath(uploadID string, index int) string {
	return filepath.Join(m.sessionDir(uploadID), fmt.Sprintf("chunk_%d", index))
}

func (m *Manager) readMeta(uploadID string) (*models.UploadSession, error) {
	data, err := os.ReadFile(m.metaPath(uploadID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("upload session %s: %w", uploadID, httperr.ErrNotFound)
		}
		return nil, fmt.Errorf("reading upload session: %w", err)
	}
	var sess models.UploadSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decoding upload session: %w", err)
	}
	if sess.Received == nil {
		sess.Received = map[int]bool{}
	}
	return &sess, nil
}

func (m *Manager) writeMeta(sess *models.UploadSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding upload session: %w", err)
	}
	if err := os.WriteFile(m.metaPath(sess.UploadID), data, 0o644); err != nil {
		return fmt.Errorf("persisting upload session: %w", err)
	}
	return nil
}

// Init starts a new upload session (spec.md §4.8 init).
func (m *Manager) Init(ctx context.Context, userID, filename string, totalChunks int, totalSize int64, targetPath string) (*models.UploadSession, error) {
	if totalChunks <= 0 {
		return nil, fmt.Errorf("total_chunks must be positive: %w", httperr.NewValidationError("total_chunks", "must be positive"))
	}
	if targetPath == "" {
		targetPath = filename
	}

	sess := &models.UploadSession{
		UploadID:    uuid.NewString(),
		UserID:      userID,
		Filename:    filename,
		TotalChunks: totalChunks,
		TotalSize:   totalSize,
		TargetPath:  targetPath,
		Received:    make(map[int]bool),
		CreatedAt:   time.Now(),
	}

	if err := os.MkdirAll(m.sessionDir(sess.UploadID), 0o755); err != nil {
		return nil, fmt.Errorf("creating scratch dir: %w", err)
	}
	if err := m.writeMeta(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// SaveChunk writes one chunk to scratch and records it in the received set
// idempotently (spec.md §4.8 saveChunk).
func (m *Manager) SaveChunk(ctx context.Context, uploadID string, chunkIndex int, data []byte) error {
	if int64(len(data)) > m.chunkSize {
		return fmt.Errorf("chunk is %d bytes, over the %d byte cap: %w", len(data), m.chunkSize, httperr.ErrPayloadTooLarge)
	}

	lock := m.lockFor(uploadID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := m.readMeta(uploadID)
	if err != nil {
		return err
	}
	if chunkIndex < 0 || chunkIndex >= sess.TotalChunks {
		return fmt.Errorf("chunk index %d out of range [0,%d): %w", chunkIndex, sess.TotalChunks, httperr.NewValidationError("chunk_index", "out of range"))
	}

	if err := os.WriteFile(m.chunkPath(uploadID, chunkIndex), data, 0o644); err != nil {
		return fmt.Errorf("writing chunk %d: %w", chunkIndex, err)
	}

	sess.Received[chunkIndex] = true
	return m.writeMeta(sess)
}

// Progress reports how many and which chunks have arrived (spec.md §4.8
// progress).
func (m *Manager) Progress(ctx context.Context, uploadID string) (*models.UploadSession, error) {
	lock := m.lockFor(uploadID)
	lock.Lock()
	defer lock.Unlock()
	return m.readMeta(uploadID)
}

// resolveUserPath joins targetPath onto the caller's base directory and
// rejects any result that escapes it (spec.md §4.8: "finalPath.resolve()
// must start with base/{userId}/.resolve()").
func (m *Manager) resolveUserPath(userID, targetPath string) (string, error) {
	userBase, err := filepath.Abs(filepath.Join(m.baseDir, userID))
	if err != nil {
		return "", fmt.Errorf("resolving user base: %w", err)
	}
	resolved, err := filepath.Abs(filepath.Join(userBase, targetPath))
	if err != nil {
		return "", fmt.Errorf("resolving target path: %w", err)
	}
	if resolved != userBase && !strings.HasPrefix(resolved, userBase+string(os.PathSeparator)) {
		return "", fmt.Errorf("target path %q escapes user base: %w", targetPath, httperr.ErrPathTraversal)
	}
	return resolved, nil
}

// Complete verifies ownership and completeness, concatenates the received
// chunks in order into the user's workspace, and deletes the scratch
// session (spec.md §4.8 complete).
func (m *Manager) Complete(ctx context.Context, uploadID, userID, targetPath string) (string, error) {
	lock := m.lockFor(uploadID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := m.readMeta(uploadID)
	if err != nil {
		return "", err
	}
	if sess.UserID != userID {
		return "", fmt.Errorf("upload session %s: %w", uploadID, httperr.ErrNotOwner)
	}
	if len(sess.Received) != sess.TotalChunks {
		return "", fmt.Errorf("upload incomplete: %d/%d chunks received: %w", len(sess.Received), sess.TotalChunks, httperr.ErrStateIllegal)
	}

	if targetPath == "" {
		targetPath = sess.TargetPath
	}
	finalPath, err := m.resolveUserPath(userID, targetPath)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return "", fmt.Errorf("creating destination directory: %w", err)
	}
	out, err := os.Create(finalPath)
	if err != nil {
		return "", fmt.Errorf("creating destination file: %w", err)
	}
	defer out.Close()

	for i := 0; i < sess.TotalChunks; i++ {
		if err := appendChunk(out, m.chunkPath(uploadID, i)); err != nil {
			return "", err
		}
	}

	_ = os.RemoveAll(m.sessionDir(uploadID))
	return finalPath, nil
}

// WriteSimple writes body directly into the caller's workspace at
// targetPath, for the non-chunked upload-simple endpoint (spec.md §6:
// "upload-simple ... 413 if > 50 MiB"). Size must already have passed
// CheckSimpleSize.
func (m *Manager) WriteSimple(ctx context.Context, userID, targetPath string, body io.Reader) (string, error) {
	finalPath, err := m.resolveUserPath(userID, targetPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return "", fmt.Errorf("creating destination directory: %w", err)
	}
	out, err := os.Create(finalPath)
	if err != nil {
		return "", fmt.Errorf("creating destination file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, body); err != nil {
		return "", fmt.Errorf("writing %q: %w", targetPath, err)
	}
	return finalPath, nil
}

func appendChunk(dst io.Writer, chunkPath string) error {
	f, err := os.Open(chunkPath)
	if err != nil {
		return fmt.Errorf("opening chunk %s: %w", chunkPath, err)
	}
	defer f.Close()
	if _, err := io.Copy(dst, f); err != nil {
		return fmt.Errorf("copying chunk %s: %w", chunkPath, err)
	}
	return nil
}

// Cancel deletes an upload session's scratch directory. Idempotent:
// cancelling an already-gone or never-existing session is not an error
// (spec.md §4.8 cancel).
func (m *Manager) Cancel(ctx context.Context, uploadID string) error {
	lock := m.lockFor(uploadID)
	lock.Lock()
	defer lock.Unlock()
	if err := os.RemoveAll(m.sessionDir(uploadID)); err != nil {
		return fmt.Errorf("removing scratch dir: %w", err)
	}
	return nil
}

// CleanupStale removes any upload session older than the configured TTL.
// Run once at startup (spec.md §5 cancellation/timeouts: "the
// chunked-upload scratch sweep runs once at startup").
func (m *Manager) CleanupStale(ctx context.Context) error {
	entries, err := os.ReadDir(m.scratchDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("scanning scratch dir: %w", err)
	}

	now := time.Now()
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		uploadID := entry.Name()
		sess, err := m.readMeta(uploadID)
		if err != nil {
			// A directory with no readable meta.json is not a session
			// this manager created; leave it alone.
			continue
		}
		if now.Sub(sess.CreatedAt) > m.staleTTL {
			_ = os.RemoveAll(m.sessionDir(uploadID))
		}
	}
	return nil
}
