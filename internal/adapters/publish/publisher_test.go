package publish

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hexforge/reliefd/internal/core/domain"
)

func newTestPublisher(t *testing.T) (*Publisher, string) {
	t.Helper()
	root := t.TempDir()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	return New(root, "/assets/", logger), root
}

func writeSource(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.png")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestPublisher_Publish(t *testing.T) {
	pub, root := newTestPublisher(t)
	src := writeSource(t, "pixels")

	art, err := pub.Publish(src, "castle__j1__heightmap.png")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "castle__j1__heightmap.png"), art.EnginePath)
	assert.Equal(t, "/assets/castle__j1__heightmap.png", art.URL)

	data, err := os.ReadFile(art.EnginePath)
	require.NoError(t, err)
	assert.Equal(t, "pixels", string(data))
}

func TestPublisher_RepublishOverwrites(t *testing.T) {
	pub, _ := newTestPublisher(t)

	first := writeSource(t, "v1")
	art1, err := pub.Publish(first, "asset.png")
	require.NoError(t, err)

	second := writeSource(t, "v2")
	art2, err := pub.Publish(second, "asset.png")
	require.NoError(t, err)

	assert.Equal(t, art1.EnginePath, art2.EnginePath)
	data, err := os.ReadFile(art2.EnginePath)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data), "republish converges on latest content")
}

func TestPublisher_MissingSource(t *testing.T) {
	pub, _ := newTestPublisher(t)

	_, err := pub.Publish(filepath.Join(t.TempDir(), "absent.png"), "x.png")
	assert.ErrorIs(t, err, domain.ErrSourceMissing)
}

func TestPublisher_RefusesSymlinkedSource(t *testing.T) {
	pub, _ := newTestPublisher(t)

	real := writeSource(t, "pixels")
	link := filepath.Join(t.TempDir(), "link.png")
	require.NoError(t, os.Symlink(real, link))

	_, err := pub.Publish(link, "x.png")
	assert.ErrorIs(t, err, domain.ErrRefusedSymlink)
}

func TestPublisher_RefusesSymlinkedRoot(t *testing.T) {
	realRoot := t.TempDir()
	linkRoot := filepath.Join(t.TempDir(), "assets")
	require.NoError(t, os.Symlink(realRoot, linkRoot))

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	pub := New(linkRoot, "/assets/", logger)

	_, err := pub.Publish(writeSource(t, "pixels"), "x.png")
	assert.ErrorIs(t, err, domain.ErrRefusedSymlink)
}

func TestPublisher_TraversalUsesBaseNameOnly(t *testing.T) {
	pub, root := newTestPublisher(t)
	src := writeSource(t, "pixels")

	art, err := pub.Publish(src, "../../escape.png")
	require.NoError(t, err)

	// The traversal components are discarded, not honored.
	assert.Equal(t, filepath.Join(root, "escape.png"), art.EnginePath)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(root), "escape.png"))
}

func TestPublisher_RejectsEmptyName(t *testing.T) {
	pub, _ := newTestPublisher(t)
	src := writeSource(t, "pixels")

	for _, name := range []string{"", ".", "/"} {
		_, err := pub.Publish(src, name)
		assert.ErrorIs(t, err, domain.ErrPathEscape, "name %q", name)
	}
}
