package service

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/media-module/internal/blobstore"
	"github.com/bigkaa/goartstore/media-module/internal/cache"
	"github.com/bigkaa/goartstore/media-module/internal/derivative"
	"github.com/bigkaa/goartstore/media-module/internal/domain/model"
	"github.com/bigkaa/goartstore/media-module/internal/repository"
	"github.com/bigkaa/goartstore/media-module/internal/worker"
)

// --- In-memory репозиторий файлов ---

type fakeFileRepo struct {
	mu    sync.Mutex
	files map[string]*model.File
	// skipDedupLookups — сколько следующих GetActiveByChecksum вернут ErrNotFound
	// (имитация гонки двух загрузок)
	skipDedupLookups int
	createCalls      int
}

func newFakeFileRepo() *fakeFileRepo {
	return &fakeFileRepo{files: make(map[string]*model.File)}
}

func clone(f *model.File) *model.File {
	cp := *f
	cp.Tags = append([]string(nil), f.Tags...)
	return &cp
}

func (r *fakeFileRepo) Create(_ context.Context, f *model.File) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createCalls++
	for _, e := range r.files {
		if e.OwnerID == f.OwnerID && e.Checksum == f.Checksum && e.Status != model.StatusDeleted {
			return repository.ErrConflict
		}
	}
	now := time.Now().UTC()
	f.CreatedAt, f.UpdatedAt = now, now
	r.files[f.ID] = clone(f)
	return nil
}

func (r *fakeFileRepo) GetByID(_ context.Context, id string) (*model.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clone(f), nil
}

func (r *fakeFileRepo) GetActiveByChecksum(_ context.Context, ownerID, checksum string) (*model.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.skipDedupLookups > 0 {
		r.skipDedupLookups--
		return nil, repository.ErrNotFound
	}
	for _, f := range r.files {
		if f.OwnerID == ownerID && f.Checksum == checksum && f.Status != model.StatusDeleted {
			return clone(f), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeFileRepo) filter(filters repository.FileListFilters) []*model.File {
	var out []*model.File
	for _, f := range r.files {
		if filters.OwnerID != nil && f.OwnerID != *filters.OwnerID {
			continue
		}
		if filters.Category != nil && f.Category != *filters.Category {
			continue
		}
		if filters.Status != nil && f.Status != *filters.Status {
			continue
		}
		out = append(out, clone(f))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (r *fakeFileRepo) List(_ context.Context, filters repository.FileListFilters, limit, offset int) ([]*model.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.filter(filters)
	if offset >= len(all) {
		return []*model.File{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (r *fakeFileRepo) Count(_ context.Context, filters repository.FileListFilters) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.filter(filters)), nil
}

func (r *fakeFileRepo) update(id string, active bool, fn func(f *model.File)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[id]
	if !ok || (active && f.Status != model.StatusActive) {
		return repository.ErrNotFound
	}
	fn(f)
	f.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *fakeFileRepo) UpdateMetadata(_ context.Context, f *model.File) error {
	return r.update(f.ID, true, func(e *model.File) {
		e.Description = f.Description
		e.Tags = append([]string(nil), f.Tags...)
		e.IsPublic = f.IsPublic
	})
}

func (r *fakeFileRepo) ClaimProcessing(_ context.Context, id string, staleBefore time.Time) (int, error) {
	var attempts int
	err := r.update(id, true, func(f *model.File) {
		stale := f.ProcessingStatus == model.ProcessingInProgress && f.UpdatedAt.Before(staleBefore)
		if f.ProcessingStatus != model.ProcessingPending && !stale {
			attempts = -1
			return
		}
		f.ProcessingStatus = model.ProcessingInProgress
		f.ProcessingAttempts++
		attempts = f.ProcessingAttempts
	})
	if err == nil && attempts < 0 {
		return 0, repository.ErrNotFound
	}
	return attempts, err
}

func (r *fakeFileRepo) SetDerivatives(_ context.Context, id, thumb, preview string) error {
	return r.update(id, true, func(f *model.File) {
		f.ThumbnailURL = &thumb
		f.PreviewURL = &preview
		f.ProcessingStatus = model.ProcessingDone
	})
}

func (r *fakeFileRepo) SetProcessingStatus(_ context.Context, id, status string) error {
	return r.update(id, false, func(f *model.File) { f.ProcessingStatus = status })
}

func (r *fakeFileRepo) SetScanStatus(_ context.Context, id, status string) error {
	return r.update(id, true, func(f *model.File) { f.ScanStatus = status })
}

func (r *fakeFileRepo) SoftDelete(_ context.Context, id string) error {
	return r.update(id, true, func(f *model.File) {
		now := time.Now().UTC()
		f.Status = model.StatusDeleted
		f.DeletedAt = &now
	})
}

func (r *fakeFileRepo) ListStaleProcessing(_ context.Context, before time.Time, limit int) ([]*model.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.File
	for _, f := range r.files {
		if f.Status == model.StatusActive &&
			(f.ProcessingStatus == model.ProcessingPending || f.ProcessingStatus == model.ProcessingInProgress) &&
			f.UpdatedAt.Before(before) && len(out) < limit {
			out = append(out, clone(f))
		}
	}
	return out, nil
}

func (r *fakeFileRepo) ListPendingPurge(_ context.Context, limit int) ([]*model.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.File
	for _, f := range r.files {
		if f.Status == model.StatusDeleted && f.PurgedAt == nil && len(out) < limit {
			out = append(out, clone(f))
		}
	}
	return out, nil
}

func (r *fakeFileRepo) MarkPurged(_ context.Context, id string) error {
	return r.update(id, false, func(f *model.File) {
		now := time.Now().UTC()
		f.PurgedAt = &now
	})
}

// rowsFor возвращает количество строк владельца с контрольной суммой.
func (r *fakeFileRepo) rowsFor(ownerID, checksum string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, f := range r.files {
		if f.OwnerID == ownerID && f.Checksum == checksum {
			n++
		}
	}
	return n
}

// --- In-memory репозиторий прав ---

type fakePermRepo struct {
	mu    sync.Mutex
	perms []model.FilePermission
}

func (r *fakePermRepo) Grant(_ context.Context, p *model.FilePermission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.perms {
		e := &r.perms[i]
		if e.FileID == p.FileID && e.UserID == p.UserID && e.Permission == p.Permission {
			e.GrantedBy, e.ExpiresAt = p.GrantedBy, p.ExpiresAt
			p.ID, p.CreatedAt = e.ID, e.CreatedAt
			return nil
		}
	}
	p.CreatedAt = time.Now().UTC()
	r.perms = append(r.perms, *p)
	return nil
}

func (r *fakePermRepo) Revoke(_ context.Context, fileID, userID, permission string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.perms {
		if e.FileID == fileID && e.UserID == userID && e.Permission == permission {
			r.perms = append(r.perms[:i], r.perms[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *fakePermRepo) ListForUser(_ context.Context, fileID, userID string) ([]model.FilePermission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.FilePermission
	for _, e := range r.perms {
		if e.FileID == fileID && e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakePermRepo) ListForFile(_ context.Context, fileID string) ([]model.FilePermission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.FilePermission
	for _, e := range r.perms {
		if e.FileID == fileID {
			out = append(out, e)
		}
	}
	return out, nil
}

// --- In-memory хранилище объектов ---

type fakeBlobStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	puts      int
	encrypt   bool
	getErr    error
	signCalls int
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: make(map[string][]byte)}
}

func (b *fakeBlobStore) EncryptionEnabled() bool { return b.encrypt }

func (b *fakeBlobStore) Put(_ context.Context, key string, data []byte, _ string, meta blobstore.PutMetadata) (*blobstore.PutResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.puts++
	b.objects[key] = bytes.Clone(data)
	return &blobstore.PutResult{URL: "s3://media/" + key, Encrypted: meta.Encrypt}, nil
}

func (b *fakeBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.getErr != nil {
		return nil, b.getErr
	}
	data, ok := b.objects[key]
	if !ok {
		return nil, blobstore.ErrObjectNotFound
	}
	return bytes.Clone(data), nil
}

func (b *fakeBlobStore) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *fakeBlobStore) DeletePrefix(_ context.Context, prefix string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) {
			delete(b.objects, k)
			n++
		}
	}
	return n, nil
}

func (b *fakeBlobStore) SignedURL(_ context.Context, key string, ttl time.Duration, _ string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.signCalls++
	return "http://s3.local/media/" + key + "?X-Amz-Expires=" + ttl.String(), nil
}

func (b *fakeBlobStore) has(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok
}

func (b *fakeBlobStore) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

// --- Генератор производных ---

type fakeGenerator struct {
	mu    sync.Mutex
	calls int
	// thumbnailFn переопределяет результат генерации
	thumbnailFn func(data []byte, contentType, sizeClass string) (*derivative.Result, error)
}

func (g *fakeGenerator) HasSizeClass(name string) bool {
	return name == "small" || name == "medium" || name == "large"
}

func (g *fakeGenerator) Applicable(contentType string) bool {
	ct := model.NormalizeContentType(contentType)
	return strings.HasPrefix(ct, "image/") || strings.HasPrefix(ct, "video/") ||
		ct == "application/pdf" || strings.HasPrefix(ct, "text/")
}

func (g *fakeGenerator) Thumbnail(_ context.Context, data []byte, contentType, sizeClass string) (*derivative.Result, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.thumbnailFn != nil {
		return g.thumbnailFn(data, contentType, sizeClass)
	}
	if !g.Applicable(contentType) {
		return nil, derivative.ErrNotApplicable
	}
	out := append([]byte("jpeg:"+sizeClass+":"), data...)
	return &derivative.Result{Data: out, ContentType: "image/jpeg"}, nil
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// --- Очередь ---

type fakeQueue struct {
	mu    sync.Mutex
	tasks []worker.Task
	full  bool
}

func (q *fakeQueue) Enqueue(t worker.Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.full {
		return false
	}
	q.tasks = append(q.tasks, t)
	return true
}

func (q *fakeQueue) drain() []worker.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.tasks
	q.tasks = nil
	return out
}

// --- Сборка сервиса ---

type testEnv struct {
	svc   *FileService
	files *fakeFileRepo
	perms *fakePermRepo
	blobs *fakeBlobStore
	gen   *fakeGenerator
	queue *fakeQueue
	cache cache.Cache
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		files: newFakeFileRepo(),
		perms: &fakePermRepo{},
		blobs: newFakeBlobStore(),
		gen:   &fakeGenerator{},
		queue: &fakeQueue{},
		cache: cache.NewMemory(100, time.Minute),
	}
	env.svc = NewFileService(env.files, env.perms, env.blobs, env.gen, env.cache, env.queue, FileServiceOptions{
		MaxFileSize:       1024,
		MaxFilesPerUpload: 3,
		AllowedTypes:      []string{"image/*", "text/plain", "application/pdf", "application/zip"},
		SignedURLTTL:      time.Hour,
		SignedURLMaxTTL:   24 * time.Hour,
		RequestTimeout:    5 * time.Second,
		TaskMaxAttempts:   3,
	}, testLogger())
	return env
}

// runTasks выполняет накопленные задачи очереди.
func (e *testEnv) runTasks(t *testing.T) {
	t.Helper()
	for _, task := range e.queue.drain() {
		if err := e.svc.HandleTask(context.Background(), task); err != nil {
			t.Fatalf("HandleTask(%s, %s) ошибка: %v", task.Kind, task.FileID, err)
		}
	}
}

func (e *testEnv) upload(t *testing.T, owner string, data []byte, contentType string) *model.File {
	t.Helper()
	f, err := e.svc.Upload(context.Background(), UploadParams{
		Data:        data,
		Filename:    "photo.png",
		ContentType: contentType,
		OwnerID:     owner,
	})
	if err != nil {
		t.Fatalf("Upload() ошибка: %v", err)
	}
	return f
}
