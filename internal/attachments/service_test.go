package attachments

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdesk/opsdesk/internal/domain"
	"github.com/opsdesk/opsdesk/internal/incidents"
	"github.com/opsdesk/opsdesk/internal/policy"
)

type memRepo struct {
	nextID    int64
	items     map[int64]*domain.Attachment
	createErr error
}

func newMemRepo() *memRepo {
	return &memRepo{items: make(map[int64]*domain.Attachment)}
}

func (m *memRepo) CreateAttachment(_ context.Context, att *domain.Attachment) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	att.ID = m.nextID
	m.items[att.ID] = att
	return nil
}

func (m *memRepo) GetAttachment(_ context.Context, id int64) (*domain.Attachment, error) {
	att, ok := m.items[id]
	if !ok {
		return nil, ErrAttachmentNotFound
	}
	return att, nil
}

func (m *memRepo) ListByIncident(_ context.Context, incidentID int64) ([]*domain.Attachment, error) {
	var out []*domain.Attachment
	for _, att := range m.items {
		if att.IncidentID == incidentID {
			out = append(out, att)
		}
	}
	return out, nil
}

func (m *memRepo) DeleteAttachment(_ context.Context, id int64) error {
	if _, ok := m.items[id]; !ok {
		return ErrAttachmentNotFound
	}
	delete(m.items, id)
	return nil
}

type memStorage struct {
	blobs map[string][]byte
}

func newMemStorage() *memStorage {
	return &memStorage{blobs: make(map[string][]byte)}
}

func (m *memStorage) Save(name string, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	m.blobs[name] = data
	return int64(len(data)), nil
}

func (m *memStorage) Open(name string) (io.ReadSeekCloser, error) {
	data, ok := m.blobs[name]
	if !ok {
		return nil, errors.New("blob not found")
	}
	return nopCloser{bytes.NewReader(data)}, nil
}

func (m *memStorage) Remove(name string) error {
	delete(m.blobs, name)
	return nil
}

type nopCloser struct{ *bytes.Reader }

func (nopCloser) Close() error { return nil }

// fakeIncidents mimics the visibility behavior of the incidents service.
type fakeIncidents struct {
	incidents map[int64]*domain.Incident
}

func (f *fakeIncidents) Get(_ context.Context, id int64, actor domain.Actor) (*domain.Incident, error) {
	inc, ok := f.incidents[id]
	if !ok {
		return nil, incidents.ErrIncidentNotFound
	}
	if !policy.CanView(actor, inc) {
		return nil, incidents.ErrForbidden
	}
	return inc, nil
}

var (
	attReporter = domain.Actor{ID: 1, Role: domain.RoleReporter}
	attOperator = domain.Actor{ID: 2, Role: domain.RoleOperator}
	attAdmin    = domain.Actor{ID: 3, Role: domain.RoleAdmin}
)

func newTestService(t *testing.T) (*Service, *memRepo, *memStorage, *fakeIncidents) {
	t.Helper()
	repo := newMemRepo()
	storage := newMemStorage()
	assignee := int64(2)
	inc := &fakeIncidents{incidents: map[int64]*domain.Incident{
		1: {ID: 1, Status: domain.IncidentStatusOpen, ReportedBy: 1, AssignedTo: &assignee},
		2: {ID: 2, Status: domain.IncidentStatusClosed, ReportedBy: 1},
		3: {ID: 3, Status: domain.IncidentStatusOpen, ReportedBy: 9},
	}}
	return NewService(repo, inc, storage), repo, storage, inc
}

func TestUpload_StoresBlobAndMetadata(t *testing.T) {
	svc, repo, storage, _ := newTestService(t)

	att, err := svc.Upload(context.Background(), attReporter, 1,
		"/tmp/../screenshot.png", "image/png", strings.NewReader("png-bytes"))
	require.NoError(t, err)

	assert.Equal(t, int64(1), att.ID)
	assert.Equal(t, "screenshot.png", att.FileName, "client path segments must be stripped")
	assert.Equal(t, int64(9), att.Size)
	assert.Equal(t, int64(1), att.UploadedBy)
	assert.NotEmpty(t, att.StoragePath)
	assert.NotEqual(t, "screenshot.png", att.StoragePath)

	assert.Equal(t, []byte("png-bytes"), storage.blobs[att.StoragePath])
	assert.Len(t, repo.items, 1)
}

func TestUpload_RejectsOversizedFile(t *testing.T) {
	svc, repo, storage, _ := newTestService(t)

	big := bytes.NewReader(make([]byte, MaxFileSize+1))
	_, err := svc.Upload(context.Background(), attReporter, 1, "dump.zip", "application/zip", big)

	assert.ErrorIs(t, err, ErrFileTooLarge)
	assert.Empty(t, repo.items)
	assert.Empty(t, storage.blobs, "oversized blob must not linger")
}

func TestUpload_RejectsUnsupportedType(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.Upload(context.Background(), attReporter, 1,
		"malware.exe", "application/x-msdownload", strings.NewReader("MZ"))
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestUpload_RejectsEmptyFile(t *testing.T) {
	svc, _, storage, _ := newTestService(t)

	_, err := svc.Upload(context.Background(), attReporter, 1,
		"empty.txt", "text/plain", strings.NewReader(""))
	assert.ErrorIs(t, err, ErrEmptyFile)
	assert.Empty(t, storage.blobs)
}

func TestUpload_ClosedIncidentRejected(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.Upload(context.Background(), attReporter, 2,
		"late.txt", "text/plain", strings.NewReader("too late"))
	assert.ErrorIs(t, err, incidents.ErrIncidentClosed)
}

func TestUpload_InvisibleIncident(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	// Incident 3 belongs to another reporter.
	_, err := svc.Upload(context.Background(), attReporter, 3,
		"note.txt", "text/plain", strings.NewReader("hi"))
	assert.ErrorIs(t, err, incidents.ErrForbidden)
}

func TestUpload_MetadataFailureRemovesBlob(t *testing.T) {
	svc, repo, storage, _ := newTestService(t)
	repo.createErr = errors.New("insert failed")

	_, err := svc.Upload(context.Background(), attReporter, 1,
		"note.txt", "text/plain", strings.NewReader("hi"))
	require.Error(t, err)
	assert.Empty(t, storage.blobs, "orphaned blob after metadata failure")
}

func TestDownload_ReturnsBlob(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	att, err := svc.Upload(context.Background(), attReporter, 1,
		"log.txt", "text/plain", strings.NewReader("contents"))
	require.NoError(t, err)

	got, blob, err := svc.Download(context.Background(), attOperator, att.ID)
	require.NoError(t, err)
	defer func() { _ = blob.Close() }()

	assert.Equal(t, att.ID, got.ID)
	data, err := io.ReadAll(blob)
	require.NoError(t, err)
	assert.Equal(t, "contents", string(data))
}

func TestDownload_InvisibleIncident(t *testing.T) {
	svc, repo, storage, _ := newTestService(t)

	// Seed an attachment on the foreign incident directly.
	storage.blobs["blob-1"] = []byte("secret")
	repo.items[77] = &domain.Attachment{ID: 77, IncidentID: 3, UploadedBy: 9, StoragePath: "blob-1"}

	_, _, err := svc.Download(context.Background(), attReporter, 77)
	assert.ErrorIs(t, err, incidents.ErrForbidden)
}

func TestDelete_ByUploader(t *testing.T) {
	svc, repo, storage, _ := newTestService(t)

	att, err := svc.Upload(context.Background(), attReporter, 1,
		"note.txt", "text/plain", strings.NewReader("hi"))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), attReporter, att.ID))
	assert.Empty(t, repo.items)
	assert.Empty(t, storage.blobs)
}

func TestDelete_ByAdmin(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	att, err := svc.Upload(context.Background(), attReporter, 1,
		"note.txt", "text/plain", strings.NewReader("hi"))
	require.NoError(t, err)

	assert.NoError(t, svc.Delete(context.Background(), attAdmin, att.ID))
}

func TestDelete_OtherUserForbidden(t *testing.T) {
	svc, repo, _, _ := newTestService(t)

	att, err := svc.Upload(context.Background(), attReporter, 1,
		"note.txt", "text/plain", strings.NewReader("hi"))
	require.NoError(t, err)

	err = svc.Delete(context.Background(), attOperator, att.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Len(t, repo.items, 1)
}

func TestList_RequiresVisibility(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.List(context.Background(), attReporter, 3)
	assert.ErrorIs(t, err, incidents.ErrForbidden)

	items, err := svc.List(context.Background(), attReporter, 1)
	require.NoError(t, err)
	assert.Empty(t, items)
}
