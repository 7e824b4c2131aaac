package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/shandysiswandi/gouploader/internal/uploader/entity"
)

// ProgressFunc receives the cumulative number of bytes sent.
type ProgressFunc func(sent int64)

// progressReader reports every chunk read from the underlying reader.
//
// It also implements io.Seeker when the underlying reader does, which SDKs
// need to hash or rewind a request body. Rewinding never makes the reported
// value go backwards: only new maxima are reported.
type progressReader struct {
	mu       sync.Mutex
	r        io.Reader
	onRead   ProgressFunc
	pos      int64
	reported int64
}

func newProgressReader(r io.Reader, onRead ProgressFunc) *progressReader {
	return &progressReader{r: r, onRead: onRead, reported: -1}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.advance(int64(n))
	}
	return n, err
}

func (p *progressReader) Seek(offset int64, whence int) (int64, error) {
	seeker, ok := p.r.(io.Seeker)
	if !ok {
		return 0, errors.New("progress reader: underlying reader is not seekable")
	}

	pos, err := seeker.Seek(offset, whence)
	if err != nil {
		return pos, err
	}

	p.mu.Lock()
	p.pos = pos
	p.mu.Unlock()

	return pos, nil
}

// start reports zero bytes once so observers see the transfer begin.
func (p *progressReader) start() {
	p.advance(0)
}

func (p *progressReader) advance(n int64) {
	p.mu.Lock()
	p.pos += n
	pos := p.pos
	report := pos > p.reported
	if report {
		p.reported = pos
	}
	p.mu.Unlock()

	if report && p.onRead != nil {
		p.onRead(pos)
	}
}

// progressSink counts the bytes minio-go hands to its Progress reader.
type progressSink struct {
	reader *progressReader
}

func (s progressSink) Read(b []byte) (int, error) {
	s.reader.advance(int64(len(b)))
	return len(b), nil
}

// classify maps a transport error to entity.ErrCanceled when ctx was
// canceled and to entity.ErrTransferFailed otherwise.
func classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%s: %w", op, entity.ErrCanceled)
	}

	return fmt.Errorf("%s: %w: %w", op, entity.ErrTransferFailed, err)
}
