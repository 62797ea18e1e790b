package web

import (
	"io"
	"log"
	"net/http"
	"time"

	"github.com/flitsinc/mission-control/internal/idgen"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(p []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(p)
	sr.bytes += int64(n)
	return n, err
}

func (sr *statusRecorder) ReadFrom(src io.Reader) (int64, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	var n int64
	var err error
	if rf, ok := sr.ResponseWriter.(io.ReaderFrom); ok {
		n, err = rf.ReadFrom(src)
	} else {
		n, err = io.Copy(sr.ResponseWriter, src)
	}
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// LogRequests tags each response with an X-Request-Id and logs one line per
// request once the response is written. A nil logger uses log.Default.
func LogRequests(next http.Handler, logger *log.Logger) http.Handler {
	if logger == nil {
		logger = log.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := idgen.New()
		w.Header().Set("X-Request-Id", id)

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		logger.Printf("%s %s %s %d %dB %s", id, r.Method, r.URL.Path, status, rec.bytes, time.Since(start))
	})
}
