package utility

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"runtime/debug"
	"strings"

	_errors "github.com/mirzahilmi/heartsensor/broker/internal/common/errors"
	"github.com/rs/zerolog/log"
)

const indexFile = "index.html"

// Static serves files below root. Requests resolving outside root are
// treated like missing files.
func Static(root string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, err := resolve(root, r.URL.Path)
		if err != nil {
			log.Debug().Err(err).Str("path", r.URL.Path).Msg("static: rejected path")
			http.NotFound(w, r)
			return
		}

		f, err := os.Open(name)
		if errors.Is(err, fs.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			fail(w, r, err)
			return
		}
		defer f.Close()

		stat, err := f.Stat()
		if err != nil {
			fail(w, r, err)
			return
		}
		if stat.IsDir() {
			http.NotFound(w, r)
			return
		}
		http.ServeContent(w, r, stat.Name(), stat.ModTime(), f)
	}
}

// resolve maps a request path onto a file below root.
func resolve(root, requestPath string) (string, error) {
	clean := path.Clean("/" + requestPath)
	if clean == "/" {
		clean = "/" + indexFile
	}

	base, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	name := filepath.Join(base, filepath.FromSlash(clean))
	rel, err := filepath.Rel(base, name)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", _errors.NewNotFoundError("file %s", requestPath)
	}
	return name, nil
}

func fail(w http.ResponseWriter, r *http.Request, err error) {
	log.Error().Err(err).Str("path", r.URL.Path).Bytes("stack", debug.Stack()).Msg("static: request failed")
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}
