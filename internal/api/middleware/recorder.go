package middleware

import (
	"bytes"
	"net/http"
)

// responseRecorder buffers a handler's response so middleware can persist it
// before it reaches the client.
type responseRecorder struct {
	header     http.Header
	body       bytes.Buffer
	statusCode int
}

func newResponseRecorder() *responseRecorder {
	return &responseRecorder{
		header:     make(http.Header),
		statusCode: http.StatusOK,
	}
}

func (rec *responseRecorder) Header() http.Header {
	return rec.header
}

func (rec *responseRecorder) WriteHeader(statusCode int) {
	rec.statusCode = statusCode
}

func (rec *responseRecorder) Write(b []byte) (int, error) {
	return rec.body.Write(b)
}

// flush copies the recorded response to the real writer.
func (rec *responseRecorder) flush(w http.ResponseWriter) {
	copyHeader(w.Header(), rec.header)
	w.WriteHeader(rec.statusCode)
	_, _ = w.Write(rec.body.Bytes())
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
