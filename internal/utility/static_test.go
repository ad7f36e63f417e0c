package utility

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPublicDir(t *testing.T) string {
	t.Helper()
	parent := t.TempDir()
	root := filepath.Join(parent, "public")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "js"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("<h1>hsl</h1>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "js", "plot.js"), []byte("plot()"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(parent, "secret.txt"), []byte("nope"), 0o644))
	return root
}

func serve(root, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.URL.Path = target
	Static(root).ServeHTTP(rec, req)
	return rec
}

func TestStaticServesFiles(t *testing.T) {
	root := newPublicDir(t)

	rec := serve(root, "/js/plot.js")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "plot()", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "javascript")

	rec = serve(root, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<h1>hsl</h1>", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
}

func TestStaticMissingFile(t *testing.T) {
	root := newPublicDir(t)

	assert.Equal(t, http.StatusNotFound, serve(root, "/missing.css").Code)
	assert.Equal(t, http.StatusNotFound, serve(root, "/js").Code)
}

func TestStaticStaysInsideRoot(t *testing.T) {
	root := newPublicDir(t)

	for _, target := range []string{"/../../etc/passwd", "/../secret.txt", "/js/../../secret.txt", "../secret.txt"} {
		rec := serve(root, target)
		assert.Equal(t, http.StatusNotFound, rec.Code, target)
		assert.NotContains(t, rec.Body.String(), "nope", target)
	}
}

func TestResolve(t *testing.T) {
	root := t.TempDir()

	name, err := resolve(root, "/")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "index.html"), name)

	name, err = resolve(root, "/a/./b/../c.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "a", "c.txt"), name)
}
