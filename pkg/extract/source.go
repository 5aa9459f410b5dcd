package extract

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// Source describes where the export bytes come from. Exactly one of Path,
// URL, Reader or Factory is set. Size is optional; when known (or
// discoverable, as for local files and Content-Length responses) it enables
// byte-level progress and ETA reporting.
type Source struct {
	Path    string
	URL     string
	Reader  io.Reader
	Factory func() (io.ReadCloser, error)
	Size    int64
}

// Open resolves the source into a readable stream and, when knowable, its
// total size in bytes. Size zero means unknown.
func (s *Source) Open() (io.ReadCloser, int64, error) {
	switch {
	case s.Path != "":
		f, err := os.Open(s.Path)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to open export file: %w", err)
		}
		size := s.Size
		if size == 0 {
			if info, err := f.Stat(); err == nil {
				size = info.Size()
			}
		}
		return f, size, nil

	case s.URL != "":
		if !strings.HasPrefix(s.URL, "http://") && !strings.HasPrefix(s.URL, "https://") {
			return nil, 0, fmt.Errorf("unsupported export URL scheme: %s", s.URL)
		}
		resp, err := http.Get(s.URL)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to fetch export URL: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, 0, fmt.Errorf("export URL returned status %d", resp.StatusCode)
		}
		size := s.Size
		if size == 0 && resp.ContentLength > 0 {
			size = resp.ContentLength
		}
		return resp.Body, size, nil

	case s.Factory != nil:
		rc, err := s.Factory()
		if err != nil {
			return nil, 0, fmt.Errorf("failed to open export stream: %w", err)
		}
		return rc, s.Size, nil

	case s.Reader != nil:
		return io.NopCloser(s.Reader), s.Size, nil
	}

	return nil, 0, fmt.Errorf("export source is empty")
}
