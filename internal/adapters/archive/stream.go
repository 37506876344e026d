package archive

import (
	"errors"
	"io"
	"sync"
)

// streamSection gives random access to a compressed entry without
// inflating it up front. Reads at or after the stream position skip
// forward, discarding the bytes in between. The last window bytes passed
// over are kept, so short backward reads such as tag data stored just
// before a TIFF directory are served from memory. A read further back
// inflates the entry to a temporary file when it fits MaxInflateBytes and
// restarts the stream otherwise.
type streamSection struct {
	mu sync.Mutex

	rc     io.ReadCloser
	pos    int64 // stream offset of the next byte
	size   int64
	window []byte // bytes [pos-len(window), pos)
	limit  int

	reopen func() (io.ReadCloser, error)
	spill  func() (*tempSection, error) // nil section when the entry is too large
	temp   *tempSection

	restarts int
}

var (
	errNegativeOffset = errors.New("negative offset")
	errSectionClosed  = errors.New("entry section is closed")
)

func (s *streamSection) Size() int64 { return s.size }

func (s *streamSection) ReadAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.temp != nil {
		return s.temp.ReadAt(p, off)
	}
	if s.rc == nil {
		return 0, errSectionClosed
	}
	if off < 0 {
		return 0, errNegativeOffset
	}
	if off >= s.size {
		return 0, io.EOF
	}

	if off < s.pos-int64(len(s.window)) {
		if err := s.rewind(); err != nil {
			return 0, err
		}
		if s.temp != nil {
			return s.temp.ReadAt(p, off)
		}
	}

	n := 0
	if off < s.pos {
		n = copy(p, s.window[int64(len(s.window))-(s.pos-off):])
	} else if off > s.pos {
		if err := s.skip(off - s.pos); err != nil {
			return 0, err
		}
	}

	for n < len(p) && s.pos < s.size {
		want := p[n:]
		if rest := s.size - s.pos; int64(len(want)) > rest {
			want = want[:rest]
		}
		m, err := s.read(want)
		n += m
		if err != nil {
			return n, err
		}
	}

	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// read fills b from the stream and remembers it.
func (s *streamSection) read(b []byte) (int, error) {
	m, err := io.ReadFull(s.rc, b)
	s.remember(b[:m])
	s.pos += int64(m)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return m, err
}

// skip advances the stream by n bytes. Only the last window bytes are
// remembered.
func (s *streamSection) skip(n int64) error {
	if drop := n - int64(s.limit); drop > 0 {
		m, err := io.CopyN(io.Discard, s.rc, drop)
		s.pos += m
		s.window = s.window[:0]
		if err != nil {
			return err
		}
		n -= m
	}
	_, err := s.read(make([]byte, n))
	return err
}

// remember appends b to the window, keeping at most limit bytes.
func (s *streamSection) remember(b []byte) {
	if len(b) >= s.limit {
		s.window = append(s.window[:0], b[len(b)-s.limit:]...)
		return
	}
	if over := len(s.window) + len(b) - s.limit; over > 0 {
		s.window = append(s.window[:0], s.window[over:]...)
	}
	s.window = append(s.window, b...)
}

// rewind handles a read before the window.
func (s *streamSection) rewind() error {
	tmp, err := s.spill()
	if err != nil {
		return err
	}
	_ = s.rc.Close()
	s.rc = nil
	if tmp != nil {
		s.temp = tmp
		return nil
	}

	rc, err := s.reopen()
	if err != nil {
		return err
	}
	s.rc = rc
	s.pos = 0
	s.window = s.window[:0]
	s.restarts++
	return nil
}

func (s *streamSection) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.rc != nil {
		err = s.rc.Close()
		s.rc = nil
	}
	if s.temp != nil {
		if tErr := s.temp.Close(); tErr != nil && err == nil {
			err = tErr
		}
		s.temp = nil
	}
	return err
}
