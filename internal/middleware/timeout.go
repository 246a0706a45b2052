package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// timeoutWriter discards writes once the deadline response has been sent.
// Every access to the underlying writer, headers included, holds mu.
type timeoutWriter struct {
	http.ResponseWriter
	mu          sync.Mutex
	timedOut    bool
	wroteHeader bool
}

func (tw *timeoutWriter) Write(b []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return len(b), nil
	}
	tw.wroteHeader = true
	return tw.ResponseWriter.Write(b)
}

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut || tw.wroteHeader {
		return
	}
	tw.wroteHeader = true
	tw.ResponseWriter.WriteHeader(code)
}

// Header returns a detached header map once timed out, so a late handler
// never touches the headers of a response that has been handed back.
func (tw *timeoutWriter) Header() http.Header {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return make(http.Header)
	}
	return tw.ResponseWriter.Header()
}

// expire sends the 504 unless the handler already started a response and
// drops everything written afterwards.
func (tw *timeoutWriter) expire() {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if !tw.wroteHeader && !tw.timedOut {
		writeErrorResponse(tw.ResponseWriter, http.StatusGatewayTimeout, "Request timeout")
		tw.wroteHeader = true
	}
	tw.timedOut = true
}

func (tw *timeoutWriter) markTimedOut() {
	tw.mu.Lock()
	tw.timedOut = true
	tw.mu.Unlock()
}

// Timeout bounds each request with a context deadline. When the handler has
// not written anything by then, a 504 is sent and later writes are dropped.
// The handler keeps running until it observes ctx.Done().
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			tw := &timeoutWriter{ResponseWriter: w}
			done := make(chan struct{})
			go func() {
				defer close(done)
				next.ServeHTTP(tw, r.WithContext(ctx))
			}()

			select {
			case <-done:
			case <-ctx.Done():
			}

			// The handler may return right after observing the deadline
			// without writing, so check in both cases.
			if ctx.Err() == context.DeadlineExceeded {
				tw.expire()
				return
			}
			tw.markTimedOut()
		})
	}
}
