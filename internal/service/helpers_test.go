package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jjgordon89/JSG-Inspection-sub000/internal/domain/model"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/domain/rbac"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/lock"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/repository"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/scan"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/storage/filestore"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/storage/wal"
)

// --- In-memory FileRepository ---

// memFileRepo — FileRepository в памяти с той же семантикой, что и SQL-реализация:
// вставка оригинала и вариантов атомарна, вариант требует активного оригинала.
type memFileRepo struct {
	mu   sync.Mutex
	rows map[string]*model.FileRecord
	seq  map[string]int
	next int

	// createErr — ошибка, которую вернёт CreateArtifacts
	createErr error
	// updateLocationErr — ошибка, которую вернёт UpdateLocation
	updateLocationErr error
}

func newMemFileRepo() *memFileRepo {
	return &memFileRepo{rows: make(map[string]*model.FileRecord), seq: make(map[string]int)}
}

func cloneRecord(f *model.FileRecord) *model.FileRecord {
	c := *f
	c.Tags = slices.Clone(f.Tags)
	c.Metadata = maps.Clone(f.Metadata)
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	return &c
}

func (m *memFileRepo) CreateArtifacts(_ context.Context, original *model.FileRecord, variants []*model.FileRecord, quota *repository.QuotaGuard) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return m.createErr
	}

	staged := make(map[string]*model.FileRecord)
	all := variants
	if original != nil {
		all = append([]*model.FileRecord{original}, variants...)
	}
	if quota != nil {
		used := m.usedLocked(quota.UserID)
		for _, f := range all {
			used += f.SizeBytes
		}
		if used > quota.Limit {
			return repository.ErrQuotaExceeded
		}
	}
	for _, f := range all {
		for _, row := range m.rows {
			if row.StoragePath == f.StoragePath {
				return repository.ErrConflict
			}
		}
		if f.ParentID != nil {
			parent := staged[*f.ParentID]
			if parent == nil {
				parent = m.rows[*f.ParentID]
			}
			if parent == nil || !parent.IsActive() || parent.ParentID != nil {
				return repository.ErrParentNotActive
			}
		}
		c := cloneRecord(f)
		c.UpdatedAt = time.Now().UTC()
		staged[f.ID] = c
	}

	for _, f := range all {
		m.rows[f.ID] = staged[f.ID]
		m.seq[f.ID] = m.next
		m.next++
	}
	return nil
}

func (m *memFileRepo) GetByID(_ context.Context, id string) (*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneRecord(f), nil
}

func (m *memFileRepo) FindActiveOriginalByChecksum(_ context.Context, checksum, visibleTo string) (*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var found *model.FileRecord
	for _, f := range m.rows {
		if f.Checksum != checksum || !f.IsActive() || f.ParentID != nil {
			continue
		}
		if f.UploadedBy != visibleTo && !f.IsPublic {
			continue
		}
		if found == nil || m.seq[f.ID] < m.seq[found.ID] {
			found = f
		}
	}
	if found == nil {
		return nil, repository.ErrNotFound
	}
	return cloneRecord(found), nil
}

func (m *memFileRepo) ListVariants(_ context.Context, parentID string, includeDeleted bool) ([]*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*model.FileRecord
	for _, f := range m.rows {
		if f.ParentID == nil || *f.ParentID != parentID {
			continue
		}
		if !includeDeleted && !f.IsActive() {
			continue
		}
		out = append(out, cloneRecord(f))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Role.Kind() != out[j].Role.Kind() {
			return out[i].Role.Kind() < out[j].Role.Kind()
		}
		return out[i].Role.Size() < out[j].Role.Size()
	})
	return out, nil
}

func (m *memFileRepo) match(f *model.FileRecord, filters repository.FileListFilters) bool {
	if !f.IsActive() || f.ParentID != nil {
		return false
	}
	if filters.UploadedBy != nil && f.UploadedBy != *filters.UploadedBy && !(filters.IncludePublic && f.IsPublic) {
		return false
	}
	if filters.Category != nil && f.Category != *filters.Category {
		return false
	}
	return true
}

func (m *memFileRepo) List(_ context.Context, filters repository.FileListFilters, limit, offset int) ([]*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*model.FileRecord
	for _, f := range m.rows {
		if m.match(f, filters) {
			out = append(out, cloneRecord(f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.seq[out[i].ID] > m.seq[out[j].ID] })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memFileRepo) Count(_ context.Context, filters repository.FileListFilters) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, f := range m.rows {
		if m.match(f, filters) {
			n++
		}
	}
	return n, nil
}

func (m *memFileRepo) MarkDeleted(_ context.Context, ids []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	n := 0
	for _, id := range ids {
		if f, ok := m.rows[id]; ok && f.IsActive() {
			f.Status = model.StatusDeleted
			f.DeletedAt = &now
			n++
		}
	}
	return n, nil
}

func (m *memFileRepo) DeletePermanent(_ context.Context, ids []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range ids {
		if _, ok := m.rows[id]; !ok {
			continue
		}
		delete(m.rows, id)
		n++
		for cid, f := range m.rows {
			if f.ParentID != nil && *f.ParentID == id {
				delete(m.rows, cid)
			}
		}
	}
	return n, nil
}

func (m *memFileRepo) UpdateLocation(_ context.Context, id string, category model.Category, storagePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateLocationErr != nil {
		return m.updateLocationErr
	}
	f, ok := m.rows[id]
	if !ok || !f.IsActive() {
		return repository.ErrNotFound
	}
	f.Category = category
	f.StoragePath = storagePath
	return nil
}

func (m *memFileRepo) MergeMetadata(_ context.Context, id string, patch map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	maps.Copy(f.Metadata, patch)
	return nil
}

func (m *memFileRepo) UsedBytes(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usedLocked(userID), nil
}

func (m *memFileRepo) usedLocked(userID string) int64 {
	var used int64
	for _, f := range m.rows {
		if f.UploadedBy == userID && f.IsActive() {
			used += f.SizeBytes
		}
	}
	return used
}

func (m *memFileRepo) ActiveArtifacts(_ context.Context) ([]repository.ArtifactRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.ArtifactRef
	for _, f := range m.rows {
		if f.IsActive() {
			out = append(out, repository.ArtifactRef{
				ID: f.ID, StoragePath: f.StoragePath, SizeBytes: f.SizeBytes, Checksum: f.Checksum,
			})
		}
	}
	return out, nil
}

func (m *memFileRepo) FindActivePaths(_ context.Context, paths []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found []string
	for _, f := range m.rows {
		if f.IsActive() && slices.Contains(paths, f.StoragePath) {
			found = append(found, f.StoragePath)
		}
	}
	return found, nil
}

// count — количество строк (любой статус).
func (m *memFileRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// --- In-memory QuotaRepository ---

type memQuotaRepo struct {
	mu        sync.Mutex
	overrides map[string]int64
}

func newMemQuotaRepo() *memQuotaRepo {
	return &memQuotaRepo{overrides: make(map[string]int64)}
}

func (m *memQuotaRepo) GetOverride(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.overrides[userID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	return q, nil
}

func (m *memQuotaRepo) SetOverride(_ context.Context, userID string, quotaBytes int64, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[userID] = quotaBytes
	return nil
}

func (m *memQuotaRepo) DeleteOverride(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.overrides[userID]; !ok {
		return repository.ErrNotFound
	}
	delete(m.overrides, userID)
	return nil
}

// --- Фейковые сканер и хранилище резервных копий ---

type fakeScanner struct {
	result scan.Result
	err    error
}

func (f fakeScanner) Scan(_ context.Context, r io.Reader) (scan.Result, error) {
	_, _ = io.Copy(io.Discard, r)
	return f.result, f.err
}

type fakeBackuper struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (f *fakeBackuper) Upload(_ context.Context, key string, body io.Reader, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[key] = data
	return "etag-" + key, nil
}

// --- Тестовое окружение ---

var (
	inspector   = Actor{UserID: "user-1", Role: rbac.RoleInspector}
	otherUser   = Actor{UserID: "user-2", Role: rbac.RoleInspector}
	adminActor  = Actor{UserID: "admin-1", Role: rbac.RoleAdmin}
	viewerActor = Actor{UserID: "viewer-1", Role: rbac.RoleViewer}
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testPipelineConfig() PipelineConfig {
	return PipelineConfig{
		MaxFileSize:          10 << 20,
		AllowedMimeTypes:     []string{"image/*", "application/pdf", "text/plain"},
		ThumbnailSizes:       []int{150, 300, 600},
		ThumbnailQuality:     80,
		CompressQuality:      85,
		CompressMaxDimension: 1920,
		BulkConcurrency:      3,
		MaxImagePixels:       50_000_000,
	}
}

type testEnv struct {
	root      string
	files     *memFileRepo
	overrides *memQuotaRepo
	store     *filestore.FileStore
	journal   *wal.WAL
	writer    *PersistenceWriter
	generator *VariantGenerator
	quotas    *QuotaService
	cache     *MetadataCache
	backup    *fakeBackuper
	pipeline  *Pipeline
	svc       *FileService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, testPipelineConfig(), scan.Noop{})
}

func newTestEnvWith(t *testing.T, cfg PipelineConfig, scanner scan.Scanner) *testEnv {
	t.Helper()
	logger := testLogger()
	root := t.TempDir()

	store, err := filestore.New(root + "/uploads")
	if err != nil {
		t.Fatalf("Ошибка создания FileStore: %v", err)
	}
	journal, err := wal.New(root+"/wal", logger)
	if err != nil {
		t.Fatalf("Ошибка создания журнала: %v", err)
	}

	env := &testEnv{
		root:      root,
		files:     newMemFileRepo(),
		overrides: newMemQuotaRepo(),
		store:     store,
		journal:   journal,
		cache:     NewMetadataCache(100, time.Minute),
		backup:    &fakeBackuper{},
	}
	env.quotas = NewQuotaService(env.overrides, env.files, rbac.QuotaLimits{
		Admin:     1 << 30,
		Inspector: 100 << 20,
		Viewer:    0,
	}, logger)
	env.writer = NewPersistenceWriter(store, journal, env.files, logger)
	env.generator = NewVariantGenerator(2, cfg, logger)
	validator := NewValidator(scanner, env.quotas, logger)
	env.pipeline = NewPipeline(cfg, validator, NewDeduplicator(env.files), env.generator,
		env.writer, env.files, lock.NewLocal(), logger)
	env.svc = NewFileService(env.files, store, env.writer, env.generator, env.quotas,
		env.backup, env.cache, logger)
	return env
}

// upload загружает файл и завершает тест при ошибке.
func (e *testEnv) upload(t *testing.T, name string, data []byte, actor Actor, opts UploadOptions) *FileProcessingResult {
	t.Helper()
	res, err := e.pipeline.Upload(context.Background(), FileInput{
		OriginalName: name,
		SizeBytes:    int64(len(data)),
		Data:         data,
	}, actor, opts)
	if err != nil {
		t.Fatalf("Upload(%s): %v", name, err)
	}
	return res
}

// storedFiles — количество файлов в корне загрузок.
func (e *testEnv) storedFiles(t *testing.T) int {
	t.Helper()
	n := 0
	if err := e.store.Walk(func(string, os.FileInfo) error { n++; return nil }); err != nil {
		t.Fatalf("Walk: %v", err)
	}
	return n
}

// testJPEG создаёт JPEG w×h; seed меняет содержимое.
func testJPEG(t *testing.T, w, h int, seed uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x) + seed, G: uint8(y), B: seed, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("jpeg.Encode: %v", err)
	}
	return buf.Bytes()
}

// testText — текстовый файл с уникальным содержимым.
func testText(n int) []byte {
	return []byte(fmt.Sprintf("inspection note #%d\nall checks passed\n", n))
}

func boolPtr(b bool) *bool { return &b }

func testRecord(owner string, public bool) *model.FileRecord {
	return &model.FileRecord{ID: "rec", UploadedBy: owner, IsPublic: public, Status: model.StatusActive}
}
