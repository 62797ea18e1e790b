package web

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"
	"syscall"
)

const allowedMethods = "GET, HEAD, OPTIONS"

// responseHeaders are attached to every response, whatever its status.
var responseHeaders = [][2]string{
	{"Access-Control-Allow-Origin", "*"},
	{"Access-Control-Allow-Methods", "GET, OPTIONS"},
	{"Access-Control-Allow-Headers", "Content-Type"},
	{"Cache-Control", "no-store, no-cache, must-revalidate"},
}

// Server serves regular files beneath Dir. Requests for "/" are answered with
// Index. Lookups go through an os.Root, so neither ".." segments nor symlinks
// can reach outside Dir.
type Server struct {
	Dir   string
	Index string

	root *os.Root
}

func NewServer(dir, index string) (*Server, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("open root: %w", err)
	}
	return &Server{Dir: dir, Index: index, root: root}, nil
}

func (s *Server) Close() error {
	return s.root.Close()
}

func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		w := &headerWriter{ResponseWriter: rw}
		h := w.Header()

		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
			return
		case http.MethodGet, http.MethodHead:
		default:
			h.Set("Allow", allowedMethods)
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		urlPath := r.URL.Path
		if urlPath == "/" {
			urlPath = s.Index
		}
		name, status := resolve(urlPath)
		if status != http.StatusOK {
			http.Error(w, http.StatusText(status), status)
			return
		}
		s.serveFile(w, r, name)
	})
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, name string) {
	f, err := s.root.Open(name)
	if err != nil {
		writeOpenError(w, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeOpenError(w, err)
		return
	}
	if !info.Mode().IsRegular() {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// resolve turns a request path into a name relative to the root. Paths with
// parent segments are refused outright rather than cleaned.
func resolve(urlPath string) (string, int) {
	if strings.ContainsAny(urlPath, "\x00\\") {
		return "", http.StatusBadRequest
	}
	for _, seg := range strings.Split(urlPath, "/") {
		if seg == ".." {
			return "", http.StatusForbidden
		}
	}
	name := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
	if name == "" {
		name = "."
	}
	return name, http.StatusOK
}

func writeOpenError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENOTDIR):
		http.Error(w, "File not found", http.StatusNotFound)
	default:
		// Permission errors and os.Root escapes (symlinks leaving the tree).
		http.Error(w, "Forbidden", http.StatusForbidden)
	}
}
