package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathValidator(t *testing.T) {
	root := t.TempDir()
	v, err := NewPathValidator(root)
	require.NoError(t, err)

	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "escape")))

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"relative inside", "uploads/a.pdf", false},
		{"absolute inside", filepath.Join(root, "artifacts", "wb.xlsx"), false},
		{"root itself", root, false},
		{"dot dot escape", "../etc/passwd", true},
		{"absolute outside", "/etc/passwd", true},
		{"sibling prefix", root + "-other/file", true},
		{"symlink escape", "escape", true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Resolve(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	_, err = NewPathValidator("")
	assert.Error(t, err)
}

func TestStageAndDocuments(t *testing.T) {
	l, err := NewLocal(t.TempDir(), 1024)
	require.NoError(t, err)

	h, n, err := l.Stage([]Upload{
		{Name: "scan-b.png", Reader: strings.NewReader("bbb")},
		{Name: "../../scan-a.pdf", Reader: strings.NewReader("aaa")},
		{Name: "scan-b.png", Reader: strings.NewReader("second")},
		{Name: "...", Reader: strings.NewReader("nameless")},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	docs, err := l.Documents(h)
	require.NoError(t, err)
	var names []string
	for _, d := range docs {
		names = append(names, d.Name)
		assert.True(t, strings.HasPrefix(d.Path, l.Root()))
	}
	assert.Equal(t, []string{"document-004", "scan-a.pdf", "scan-b-2.png", "scan-b.png"}, names)

	data, err := os.ReadFile(docs[2].Path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestStageErrors(t *testing.T) {
	l, err := NewLocal(t.TempDir(), 4)
	require.NoError(t, err)

	_, _, err = l.Stage(nil)
	assert.ErrorIs(t, err, ErrEmptyUpload)

	_, _, err = l.Stage([]Upload{
		{Name: "ok.png", Reader: strings.NewReader("1234")},
		{Name: "big.png", Reader: strings.NewReader("12345")},
	})
	assert.ErrorIs(t, err, ErrFileTooLarge)

	entries, err := os.ReadDir(filepath.Join(l.Root(), uploadsDir))
	require.NoError(t, err)
	assert.Empty(t, entries, "failed stage must not leave files")

	_, err = l.Documents("not-a-handle")
	assert.ErrorIs(t, err, ErrUnknownHandle)
	_, err = l.Documents("0b8e7d55-2a4c-4a52-9d0e-36e1c39d1f00")
	assert.ErrorIs(t, err, ErrUnknownHandle)
}

func TestRegisterResolve(t *testing.T) {
	l, err := NewLocal(t.TempDir(), 0)
	require.NoError(t, err)

	path, err := l.ArtifactPath("dashboard_12_2025.xlsx")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("xlsx"), 0o644))

	id, err := l.Register(path)
	require.NoError(t, err)
	got, err := l.Resolve(id)
	require.NoError(t, err)
	assert.Equal(t, path, got)

	_, err = l.Register(filepath.Join(l.Root(), "artifacts", "missing.xlsx"))
	assert.Error(t, err)
	_, err = l.Register("/etc/passwd")
	assert.Error(t, err)

	for _, bad := range []ArtifactID{"", "!!!", "Li4vLi4vZXRjL3Bhc3N3ZA", "YXJ0aWZhY3Rz"} {
		_, err := l.Resolve(bad)
		assert.ErrorIs(t, err, ErrUnknownArtifact, "id %q", bad)
	}
}

func TestListDocuments(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.pdf", "a.png", ".hidden"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	docs, err := ListDocuments(dir)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a.png", docs[0].Name)
	assert.Equal(t, "b.pdf", docs[1].Name)

	_, err = ListDocuments(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestMinioMirrorURLs(t *testing.T) {
	m, err := NewMinioMirror(MinioConfig{
		Endpoint:  "minio.example.com",
		AccessKey: "access",
		SecretKey: "secret",
		Bucket:    "audit",
		Region:    "us-east-1",
		UseSSL:    true,
	})
	require.NoError(t, err)

	assert.Equal(t, "https://minio.example.com/audit/batches/wb.xlsx", m.PublicURL("batches/wb.xlsx"))

	u, err := m.PresignedURL(context.Background(), "batches/wb.xlsx")
	require.NoError(t, err)
	assert.Contains(t, u, "https://minio.example.com/audit/batches/wb.xlsx")
	assert.Contains(t, u, "X-Amz-Signature=")
	assert.Contains(t, u, "X-Amz-Expires=604800")

	_, err = NewMinioMirror(MinioConfig{Endpoint: "localhost:9000"})
	assert.Error(t, err)
	assert.False(t, MinioConfig{}.Enabled())
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/pdf", ContentType("dashboard.pdf"))
	assert.Contains(t, ContentType("audit_workbook.xlsx"), "spreadsheetml")
	assert.Contains(t, ContentType("preview.html"), "text/html")
	assert.Equal(t, "application/octet-stream", ContentType("blob"))
}
