package extract

import (
	"io"
	"sync/atomic"
	"time"
)

// ByteProgress is one byte-level progress report while reading a source of
// known total size.
type ByteProgress struct {
	BytesRead     int64
	TotalBytes    int64
	Percent       int
	EstimatedLeft time.Duration
}

// ProgressFunc receives throttled byte-progress reports.
type ProgressFunc func(ByteProgress)

// CountingReader is a pass-through reader that counts consumed bytes and,
// when the total size is known, reports percentage progress with a
// linear-rate ETA. Reports fire on a change of at least one percentage point
// so a fast parse does not flood the progress channel.
type CountingReader struct {
	r        io.Reader
	total    int64
	read     atomic.Int64
	started  time.Time
	lastPct  int
	onUpdate ProgressFunc
}

// NewCountingReader wraps r. total may be zero when the size is unknown, in
// which case no progress is reported. onUpdate may be nil.
func NewCountingReader(r io.Reader, total int64, onUpdate ProgressFunc) *CountingReader {
	return &CountingReader{
		r:        r,
		total:    total,
		started:  time.Now(),
		lastPct:  -1,
		onUpdate: onUpdate,
	}
}

// BytesRead returns the number of bytes consumed so far.
func (c *CountingReader) BytesRead() int64 {
	return c.read.Load()
}

func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		read := c.read.Add(int64(n))
		c.maybeReport(read)
	}
	return n, err
}

func (c *CountingReader) maybeReport(read int64) {
	if c.total <= 0 || c.onUpdate == nil {
		return
	}

	pct := int(read * 100 / c.total)
	if pct > 100 {
		pct = 100
	}
	if pct == c.lastPct {
		return
	}
	c.lastPct = pct

	var eta time.Duration
	if read > 0 && read < c.total {
		elapsed := time.Since(c.started)
		eta = time.Duration(float64(elapsed) * float64(c.total-read) / float64(read))
	}

	c.onUpdate(ByteProgress{
		BytesRead:     read,
		TotalBytes:    c.total,
		Percent:       pct,
		EstimatedLeft: eta,
	})
}
