// Package ioadapt implements the sleepable I/O adapter.
//
// A SleepableIO is a range-bounded view over either a host file or a tar
// sub-region that can release its OS file handle ("sleep") and reopen it on
// demand ("wake") while remembering its logical read position. This is what
// lets thousands of opened videos coexist with a near-zero per-video
// resource footprint: an asleep video keeps only a path and two offsets.
package ioadapt

import (
	"io"
	"os"
	"syscall"

	"github.com/five82/vidtensor/internal/errs"
)

// SeekSize is a distinguished whence value: Seek(0, SeekSize) returns the
// logical size of the range without touching the read position. This
// mirrors AVSEEK_SIZE from libavformat's custom AVIOContext callback
// convention, since a SleepableIO is primarily meant to sit behind one.
const SeekSize = 3

// SleepableIO is a seekable, range-bounded stream that can be put to sleep
// (closing its OS handle) and woken again without losing its logical
// position.
type SleepableIO struct {
	path      string
	startPos  int64
	fileSize  int64 // -1 means "rest of file", resolved to a concrete size on first open
	lastPos   int64 // position within [0, fileSize), valid whether awake or asleep
	file      *os.File
	extStream *os.File // externally bound stream, used transiently during tar opening
}

// New creates a SleepableIO over path. If fileSize is negative, the range
// extends to the end of the file. If externalStream is non-nil, reads are
// served from it directly until the first Sleep clears the binding; call
// Wake before the first Read to position it at the range start, since the
// handle arrives at whatever offset its previous user left it.
func New(path string, startPos, fileSize int64, externalStream *os.File) *SleepableIO {
	return &SleepableIO{
		path:      path,
		startPos:  startPos,
		fileSize:  fileSize,
		extStream: externalStream,
	}
}

// IsSleeping reports whether the adapter currently holds no OS file handle.
func (s *SleepableIO) IsSleeping() bool {
	return s.file == nil && s.extStream == nil
}

// resolveSize fills in fileSize from the OS the first time it's needed, when
// the caller asked for "rest of file" (fileSize < 0).
func (s *SleepableIO) resolveSize() error {
	if s.fileSize >= 0 {
		return nil
	}
	info, err := os.Stat(s.path)
	if err != nil {
		return wrapIOErr("stat", s.path, err)
	}
	if info.IsDir() {
		return errs.NewIOError("stat", s.path, syscall.EISDIR)
	}
	s.fileSize = info.Size() - s.startPos
	if s.fileSize < 0 {
		s.fileSize = 0
	}
	return nil
}

// Wake reopens the file handle (if asleep) and seeks it to lastPos. While an
// external stream is bound, Wake positions that stream instead of opening
// anything. A repeated Wake on an already-awake adapter is a no-op.
func (s *SleepableIO) Wake() error {
	if s.extStream != nil {
		if err := s.resolveSize(); err != nil {
			return err
		}
		if _, err := s.extStream.Seek(s.startPos+s.lastPos, io.SeekStart); err != nil {
			return wrapIOErr("seek", s.path, err)
		}
		return nil
	}
	if s.file != nil {
		return nil
	}
	if err := s.resolveSize(); err != nil {
		return err
	}

	f, err := os.Open(s.path)
	if err != nil {
		return wrapIOErr("open", s.path, err)
	}
	if _, err := f.Seek(s.startPos+s.lastPos, io.SeekStart); err != nil {
		_ = f.Close()
		return wrapIOErr("seek", s.path, err)
	}
	s.file = f
	return nil
}

// Sleep closes the OS file handle, remembering the current in-range offset
// so a later Wake resumes exactly where it left off. If an external stream
// is bound, Sleep unbinds it first, since only the underlying file itself
// can be reopened later. A repeated Sleep is a no-op.
func (s *SleepableIO) Sleep() error {
	s.extStream = nil
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return wrapIOErr("close", s.path, err)
	}
	return nil
}

// activeHandle returns whichever handle currently serves reads: the
// external stream if bound, otherwise the adapter's own file, waking it if
// necessary.
func (s *SleepableIO) activeHandle() (*os.File, error) {
	if s.extStream != nil {
		return s.extStream, nil
	}
	if s.file == nil {
		if err := s.Wake(); err != nil {
			return nil, err
		}
	}
	return s.file, nil
}

// Read fills buf with bytes from the current logical position, never
// returning bytes from outside [startPos, startPos+fileSize). Returns
// io.EOF once the range is exhausted.
func (s *SleepableIO) Read(buf []byte) (int, error) {
	if err := s.resolveSize(); err != nil {
		return 0, err
	}
	if s.lastPos >= s.fileSize {
		return 0, io.EOF
	}

	remaining := s.fileSize - s.lastPos
	if int64(len(buf)) > remaining {
		buf = buf[:remaining]
	}

	f, err := s.activeHandle()
	if err != nil {
		return 0, err
	}

	n, err := f.Read(buf)
	s.lastPos += int64(n)
	if err != nil && err != io.EOF {
		return n, wrapIOErr("read", s.path, err)
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Seek repositions the logical offset. whence follows io.Seek* semantics,
// plus the distinguished SeekSize query which returns the range size
// without moving the position.
func (s *SleepableIO) Seek(offset int64, whence int) (int64, error) {
	if err := s.resolveSize(); err != nil {
		return 0, err
	}

	if whence == SeekSize {
		return s.fileSize, nil
	}

	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = s.lastPos + offset
	case io.SeekEnd:
		target = s.fileSize + offset
	default:
		return 0, errs.NewIOError("seek", s.path, os.ErrInvalid)
	}

	if target < 0 {
		target = 0
	}
	s.lastPos = target

	// If awake, move the serving handle too so a subsequent Read is correct.
	if h := s.extStream; h != nil {
		if _, err := h.Seek(s.startPos+target, io.SeekStart); err != nil {
			return 0, wrapIOErr("seek", s.path, err)
		}
	} else if s.file != nil {
		if _, err := s.file.Seek(s.startPos+target, io.SeekStart); err != nil {
			return 0, wrapIOErr("seek", s.path, err)
		}
	}
	return target, nil
}

// Close releases any held OS handle. Equivalent to Sleep, provided so
// SleepableIO also satisfies io.Closer for callers that only need RAII-style
// cleanup.
func (s *SleepableIO) Close() error {
	return s.Sleep()
}

func wrapIOErr(op, path string, err error) error {
	if os.IsNotExist(err) {
		return errs.NewIOError(op, path, os.ErrNotExist)
	}
	return errs.NewIOError(op, path, err)
}
