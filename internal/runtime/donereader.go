package runtime

import (
	"io"
	"sync"
)

// Reader that announces exhaustion of its underlying stream.
//
// Exec uses it to learn when a process's stdin has been fully consumed so
// the task's IO can be closed. The done channel closes exactly once, on
// the first [io.EOF], and may be awaited from any goroutine.
type doneReader struct {
	r    io.Reader
	once sync.Once
	done chan struct{}
}

func newDoneReader(r io.Reader) *doneReader {
	return &doneReader{r: r, done: make(chan struct{})}
}

// Reads from the underlying stream, closing the done channel on the
// first [io.EOF]. Other errors pass through without signaling.
func (d *doneReader) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if err == io.EOF {
		d.once.Do(func() { close(d.done) })
	}
	return n, err
}
