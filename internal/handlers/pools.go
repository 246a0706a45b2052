package handlers

import (
	"bytes"
	"sync"

	"github.com/rs/zerolog/log"
)

// bufferPool provides reusable buffers for decoding messages and encoding
// responses. Messages are a few hundred bytes.
var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 1024))
	},
}

// getBuffer retrieves a buffer from the pool.
func getBuffer() *bytes.Buffer {
	v := bufferPool.Get()
	buf, ok := v.(*bytes.Buffer)
	if !ok {
		log.Warn().Interface("got_type", v).Msg("Unexpected type from buffer pool")
		return bytes.NewBuffer(make([]byte, 0, 1024))
	}
	return buf
}

// putBuffer returns a buffer to the pool after resetting it.
func putBuffer(buf *bytes.Buffer) {
	buf.Reset()
	bufferPool.Put(buf)
}
