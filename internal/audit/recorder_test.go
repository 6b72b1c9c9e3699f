package audit

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func fixedRecorder(b Backend) *Recorder {
	r := NewRecorder(b, zerolog.Nop())
	r.now = func() time.Time { return time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC) }
	return r
}

func TestStoreWritesContentAddressedBlob(t *testing.T) {
	root := t.TempDir()
	rec := fixedRecorder(NewFSBackend(root))
	raw := []byte("metal,total\nsilver,1\n")

	receipt := rec.Store(context.Background(), "CME", raw, "Silver_stocks.csv")
	name := Digest(raw)[:12] + "-Silver_stocks.csv"
	require.Equal(t, "CME/2026-03-02/"+name, receipt.Key)
	require.Equal(t, Digest(raw), receipt.Digest)
	require.Len(t, receipt.Digest, 64)
	require.EqualValues(t, len(raw), receipt.Size)

	onDisk, err := os.ReadFile(filepath.Join(root, "CME", "2026-03-02", name))
	require.NoError(t, err)
	require.Equal(t, raw, onDisk)

	require.NoError(t, rec.Verify(context.Background(), receipt.Key, receipt.Digest))
}

func TestStoreFailureYieldsEmptyDigest(t *testing.T) {
	root := t.TempDir()
	blocker := filepath.Join(root, "blocked")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	// root is a regular file, so MkdirAll fails.
	rec := fixedRecorder(NewFSBackend(blocker))
	receipt := rec.Store(context.Background(), "LME", []byte("abc"), "lme.csv")
	require.False(t, receipt.Stored())
	require.Empty(t, receipt.Digest)
	require.Equal(t, "LME/2026-03-02/"+Digest([]byte("abc"))[:12]+"-lme.csv", receipt.Key)
}

func TestSameDayReportsKeepEarlierBlobs(t *testing.T) {
	root := t.TempDir()
	rec := NewRecorder(NewFSBackend(root), zerolog.Nop())
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rec.now = func() time.Time { return at }

	first := rec.Store(context.Background(), "CME", []byte("metal,total\nsilver,100\n"), "silver_stocks.csv")
	at = at.Add(5 * time.Minute)
	second := rec.Store(context.Background(), "CME", []byte("metal,total\nsilver,101\n"), "silver_stocks.csv")
	require.True(t, first.Stored())
	require.True(t, second.Stored())
	require.NotEqual(t, first.Key, second.Key)

	require.NoError(t, rec.Verify(context.Background(), first.Key, first.Digest))
	require.NoError(t, rec.Verify(context.Background(), second.Key, second.Digest))

	again := rec.Store(context.Background(), "CME", []byte("metal,total\nsilver,100\n"), "silver_stocks.csv")
	require.Equal(t, first, again)
}

func TestFSBackendIsWriteOnce(t *testing.T) {
	b := NewFSBackend(t.TempDir())
	require.NoError(t, b.Put(context.Background(), "CME/2026-03-02/a.csv", []byte("v1")))
	require.NoError(t, b.Put(context.Background(), "CME/2026-03-02/a.csv", []byte("v1")))
	require.ErrorIs(t, b.Put(context.Background(), "CME/2026-03-02/a.csv", []byte("v2")), ErrBlobExists)

	data, err := b.Get(context.Background(), "CME/2026-03-02/a.csv")
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), data)
}

func TestVerifyDetectsTampering(t *testing.T) {
	root := t.TempDir()
	rec := fixedRecorder(NewFSBackend(root))
	receipt := rec.Store(context.Background(), "SHFE", []byte("original"), "shfe.csv")
	require.True(t, receipt.Stored())

	require.NoError(t, os.WriteFile(filepath.Join(root, filepath.FromSlash(receipt.Key)), []byte("edited"), 0o644))
	err := rec.Verify(context.Background(), receipt.Key, receipt.Digest)
	require.ErrorIs(t, err, ErrDigestMismatch)
}

func TestKeyFlattensSeparators(t *testing.T) {
	at := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	digest := Digest([]byte("x"))
	require.Equal(t, "a_b/2026-01-05/"+digest[:12]+"-c_d.csv", Key("a/b", at, digest, "c/d.csv"))
	require.Equal(t, "unknown/2026-01-05/payload.bin", Key("", at, "", ".."))
}

func TestFSBackendRejectsEscapingKeys(t *testing.T) {
	b := NewFSBackend(t.TempDir())
	require.Error(t, b.Put(context.Background(), "../outside", []byte("x")))
	_, err := b.Get(context.Background(), "/etc/passwd")
	require.Error(t, err)
}

type preconditionError struct{}

func (preconditionError) Error() string       { return "PreconditionFailed" }
func (preconditionError) HTTPStatusCode() int { return 412 }

type memObjects struct {
	objects map[string][]byte
	failPut bool
}

func (m *memObjects) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.failPut {
		return nil, errors.New("access denied")
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	if _, exists := m.objects[key]; exists && aws.ToString(in.IfNoneMatch) == "*" {
		return nil, preconditionError{}
	}
	m.objects[key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *memObjects) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := m.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("no such key")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3BackendRoundTrip(t *testing.T) {
	mem := &memObjects{objects: map[string][]byte{}}
	rec := fixedRecorder(newS3Backend(mem, "audit-bucket", "/metalwatch/raw/"))

	receipt := rec.Store(context.Background(), "CME", []byte("payload"), "gold.csv")
	require.True(t, receipt.Stored())
	require.Equal(t, "s3", receipt.Backend)
	require.Contains(t, mem.objects, "audit-bucket/metalwatch/raw/CME/2026-03-02/"+Digest([]byte("payload"))[:12]+"-gold.csv")
	require.NoError(t, rec.Verify(context.Background(), receipt.Key, receipt.Digest))

	// Same bytes again hit If-None-Match and are accepted as already stored.
	require.Equal(t, receipt, rec.Store(context.Background(), "CME", []byte("payload"), "gold.csv"))

	mem.objects["audit-bucket/metalwatch/raw/"+receipt.Key] = []byte("tampered")
	require.ErrorIs(t, rec.backend.Put(context.Background(), receipt.Key, []byte("payload")), ErrBlobExists)

	mem.failPut = true
	require.Empty(t, rec.Store(context.Background(), "CME", []byte("payload"), "gold.csv").Digest)
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Options{Backend: "gcs"}, zerolog.Nop())
	require.Error(t, err)

	rec, err := Open(context.Background(), Options{Root: t.TempDir()}, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, "fs", rec.backend.Name())
}
