package uploads

import (
	"bytes"
	"context"
	"mime/multipart"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func TestMemoryStoreTokensAreSingleUse(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()

	token, err := store.Put(ctx, Pending{OwnerID: 7, Filename: "a.txt"})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	_, err = store.Take(ctx, 8, token)
	assert.ErrorIs(t, err, ErrNotFound, "another owner cannot take the token")

	got, err := store.Take(ctx, 7, token)
	require.NoError(t, err)
	assert.Equal(t, "a.txt", got.Filename)

	_, err = store.Take(ctx, 7, token)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	expired, _ := store.Put(ctx, Pending{OwnerID: 1})
	live, _ := store.Put(ctx, Pending{OwnerID: 1})
	now = now.Add(2 * time.Minute)

	_, err := store.Take(ctx, 1, expired)
	assert.ErrorIs(t, err, ErrNotFound)

	dropped := store.Expire()
	assert.Len(t, dropped, 1)
	assert.Equal(t, live, dropped[0].Token)
	assert.Equal(t, 0, store.Len())
}

func TestValidateBatch(t *testing.T) {
	hs := fileHeaders(t, map[string][]byte{"a.txt": []byte("hi")})
	require.NoError(t, ValidateBatch(hs))

	assert.ErrorIs(t, ValidateBatch(nil), ErrNoFiles)

	many := map[string][]byte{}
	for _, n := range []string{"1.txt", "2.txt", "3.txt", "4.txt", "5.txt", "6.txt"} {
		many[n] = []byte("x")
	}
	assert.ErrorIs(t, ValidateBatch(fileHeaders(t, many)), ErrTooManyFiles)

	assert.ErrorIs(t, ValidateBatch(fileHeaders(t, map[string][]byte{"run.exe": []byte("MZ")})), ErrUnsupportedType)

	big := fileHeaders(t, map[string][]byte{"big.txt": []byte("x")})
	big[0].Size = MaxFileBytes + 1
	assert.ErrorIs(t, ValidateBatch(big), ErrFileTooLarge)
}

func TestDetectType(t *testing.T) {
	mt, err := DetectType("notes.md", []byte("# Title\n\nbody"))
	require.NoError(t, err)
	assert.Equal(t, "text/markdown", mt)

	mt, err = DetectType("pic.PNG", pngHeader)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mt)

	_, err = DetectType("fake.png", []byte("plain text pretending"))
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestSavePromoteAndSweep(t *testing.T) {
	base := t.TempDir()
	files := NewFiles(base, time.Minute)
	hs := fileHeaders(t, map[string][]byte{"doc.txt": []byte("hello world")})

	p, err := files.Save(3, hs[0])
	require.NoError(t, err)
	assert.Equal(t, "doc.txt", p.Filename)
	assert.Equal(t, "text/plain", p.MimeType)
	assert.Equal(t, int64(11), p.Size)
	assert.Equal(t, filepath.Join(base, "pending", "3"), filepath.Dir(p.StoragePath))

	dest, err := files.Promote(p)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "attachments", "3"), filepath.Dir(dest))
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	stale, err := files.Save(3, hs[0])
	require.NoError(t, err)
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(stale.StoragePath, old, old))
	fresh, err := files.Save(3, hs[0])
	require.NoError(t, err)

	n, err := files.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoFileExists(t, stale.StoragePath)
	assert.FileExists(t, fresh.StoragePath)
	assert.FileExists(t, dest)
}

func TestSweepWithoutPendingDir(t *testing.T) {
	n, err := NewFiles(t.TempDir(), time.Minute).Sweep()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func fileHeaders(t *testing.T, files map[string][]byte) []*multipart.FileHeader {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for name, data := range files {
		part, err := w.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	form, err := multipart.NewReader(&body, w.Boundary()).ReadForm(32 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = form.RemoveAll() })
	return form.File["files"]
}
