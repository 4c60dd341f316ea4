package walog

import "sync"

var (
	entryPool = sync.Pool{
		New: func() interface{} {
			return &Entry{Payload: make([]byte, 0, 4096)}
		},
	}

	bufferPool = sync.Pool{
		New: func() interface{} {
			buf := make([]byte, 0, 8192)
			return &buf
		},
	}
)

func AcquireEntry() *Entry {
	return entryPool.Get().(*Entry)
}

func ReleaseEntry(e *Entry) {
	e.Header = Header{}
	e.Payload = e.Payload[:0]
	entryPool.Put(e)
}

func AcquireBuffer() *[]byte {
	return bufferPool.Get().(*[]byte)
}

func ReleaseBuffer(buf *[]byte) {
	*buf = (*buf)[:0]
	bufferPool.Put(buf)
}
