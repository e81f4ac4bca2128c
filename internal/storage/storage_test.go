package storage

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSStore_PutOverwritesAndGets(t *testing.T) {
	ctx := context.Background()
	s, err := NewFSStore(t.TempDir(), "https://cdn.example.com/assets/")
	require.NoError(t, err)

	key, err := s.Put(ctx, "/a/b/c.txt", strings.NewReader("first"))
	require.NoError(t, err)
	assert.Equal(t, "a/b/c.txt", key)

	_, err = s.Put(ctx, key, strings.NewReader("second"))
	require.NoError(t, err)

	rc, err := s.Get(ctx, key)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "second", string(b))

	u, err := s.URL(key)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/assets/a/b/c.txt", u)
}

func TestFSStore_KeysStayInsideBase(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	s, err := NewFSStore(base, "")
	require.NoError(t, err)

	key, err := s.Put(ctx, "../../etc/passwd", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, "etc/passwd", key)

	_, err = s.Get(ctx, "missing.bin")
	assert.ErrorIs(t, err, ErrNotFound)

	u, err := s.URL(key)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "file://"))
}

func TestMemStore_FailKeys(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore("")
	s.FailKeys = map[string]bool{"bad.png": true}

	_, err := s.Put(ctx, "bad.png", strings.NewReader("x"))
	require.Error(t, err)

	_, err = s.Put(ctx, "good.png", strings.NewReader("y"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"good.png"}, s.Keys())
}

func TestCleanKey(t *testing.T) {
	_, err := CleanKey("")
	assert.Error(t, err)
	_, err = CleanKey("/")
	assert.Error(t, err)

	k, err := CleanKey(`imports\x\..\y.png`)
	require.NoError(t, err)
	assert.Equal(t, "imports/y.png", k)
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"images/My Photo (1).PNG": "images_My_Photo_1_.PNG",
		"/media/clip.mp4":         "media_clip.mp4",
		"../../weird name?.pdf":   "weird_name_.pdf",
		"":                        "file",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeFilename(in), in)
	}
	long := strings.Repeat("a", 300) + ".png"
	got := SanitizeFilename(long)
	assert.Len(t, got, 180)
	assert.True(t, strings.HasSuffix(got, ".png"))
}

func TestKeys_StablePerJob(t *testing.T) {
	stamp := time.UnixMilli(1700000000000)
	pk := PackageKey("org 1", "job-1", "Course.ZIP", stamp)
	assert.Equal(t, "organizations/org_1/imports/job-1/package-job-1-1700000000000.zip", pk)
	assert.Equal(t, pk, PackageKey("org 1", "job-1", "Course.ZIP", stamp))

	ak := AssetKey("org1", "job-1", "img/a b.png", stamp)
	assert.Equal(t, "organizations/org1/imports/job-1/assets/1700000000000-img_a_b.png", ak)
	assert.NotEqual(t, ak, AssetKey("org1", "job-1", "pics/a b.png", stamp))
}

func TestIsAssetKey(t *testing.T) {
	stamp := time.UnixMilli(1700000000000)
	assert.True(t, IsAssetKey(AssetKey("org1", "job-1", "img/a.png", stamp)))
	assert.False(t, IsAssetKey(PackageKey("org1", "job-1", "c.zip", stamp)))
	assert.False(t, IsAssetKey("organizations/org1/imports/job-1/assets"))
	assert.False(t, IsAssetKey("organizations/org1/imports/job-1/assets/x/y.png"))
	assert.False(t, IsAssetKey("elsewhere/org1/imports/job-1/assets/a.png"))
	assert.False(t, IsAssetKey(""))
}

func TestNewSFTPStore_Validation(t *testing.T) {
	_, err := NewSFTPStore(SFTPConfig{})
	require.Error(t, err)

	s, err := NewSFTPStore(SFTPConfig{Host: "h", User: "u", RemoteDir: "/srv"})
	require.NoError(t, err)
	u, err := s.URL("a/b.png")
	require.NoError(t, err)
	assert.Equal(t, "sftp://h:22/srv/a/b.png", u)

	_, err = s.hostKeyCallback()
	assert.Error(t, err, "host key checking requires known_hosts")
}
