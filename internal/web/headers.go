package web

import (
	"io"
	"net/http"
)

// headerWriter stamps responseHeaders onto the header map at the moment the
// status line is committed. http.ServeContent strips Cache-Control from its
// own error responses, so setting the headers once up front is not enough.
type headerWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (hw *headerWriter) WriteHeader(code int) {
	if !hw.wroteHeader {
		hw.wroteHeader = true
		h := hw.ResponseWriter.Header()
		for _, kv := range responseHeaders {
			h.Set(kv[0], kv[1])
		}
	}
	hw.ResponseWriter.WriteHeader(code)
}

func (hw *headerWriter) Write(p []byte) (int, error) {
	if !hw.wroteHeader {
		hw.WriteHeader(http.StatusOK)
	}
	return hw.ResponseWriter.Write(p)
}

// ReadFrom keeps the sendfile path of the underlying writer reachable.
func (hw *headerWriter) ReadFrom(src io.Reader) (int64, error) {
	if !hw.wroteHeader {
		hw.WriteHeader(http.StatusOK)
	}
	if rf, ok := hw.ResponseWriter.(io.ReaderFrom); ok {
		return rf.ReadFrom(src)
	}
	return io.Copy(hw.ResponseWriter, src)
}

func (hw *headerWriter) Unwrap() http.ResponseWriter {
	return hw.ResponseWriter
}
