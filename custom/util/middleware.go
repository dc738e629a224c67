package util

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/romana/rlog"
)

// RequestLogger writes one rlog line per request with status, size and latency.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			line := []interface{}{middleware.GetReqID(r.Context()), r.Method, r.URL.Path, status, ww.BytesWritten(), time.Since(start)}
			if status >= http.StatusInternalServerError {
				rlog.Error(line...)
				return
			}
			rlog.Info(line...)
		}()
		next.ServeHTTP(ww, r)
	})
}
