package ioadapt

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/five82/vidtensor/internal/errs"
)

func writeTempFile(t *testing.T, contents []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.bin")
	if err := os.WriteFile(path, contents, 0644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	return path
}

func TestReadWholeFile(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	path := writeTempFile(t, data)

	s := New(path, 0, -1, nil)
	got, err := io.ReadAll(s)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("got %q, want %q", got, data)
	}
}

func TestRangeBoundedRead(t *testing.T) {
	data := []byte("0123456789")
	path := writeTempFile(t, data)

	s := New(path, 3, 4, nil) // should read "3456"
	got, err := io.ReadAll(s)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "3456" {
		t.Fatalf("got %q, want %q", got, "3456")
	}
}

func TestSleepWakeResumesPosition(t *testing.T) {
	data := []byte("0123456789")
	path := writeTempFile(t, data)

	s := New(path, 0, -1, nil)
	buf := make([]byte, 4)
	if _, err := io.ReadFull(s, buf); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if string(buf) != "0123" {
		t.Fatalf("got %q, want %q", buf, "0123")
	}

	if err := s.Sleep(); err != nil {
		t.Fatalf("Sleep: %v", err)
	}
	if !s.IsSleeping() {
		t.Fatalf("expected IsSleeping to be true after Sleep")
	}

	if _, err := io.ReadFull(s, buf); err != nil {
		t.Fatalf("ReadFull after wake: %v", err)
	}
	if string(buf) != "4567" {
		t.Fatalf("got %q, want %q", buf, "4567")
	}
	if s.IsSleeping() {
		t.Fatalf("expected IsSleeping to be false after a read woke the adapter")
	}
}

func TestSeekSizeQuery(t *testing.T) {
	data := []byte("0123456789")
	path := writeTempFile(t, data)

	s := New(path, 2, 5, nil) // range is "23456"
	size, err := s.Seek(0, SeekSize)
	if err != nil {
		t.Fatalf("Seek(SeekSize): %v", err)
	}
	if size != 5 {
		t.Fatalf("size = %d, want 5", size)
	}

	// SeekSize must not move the read position.
	buf := make([]byte, 1)
	if _, err := s.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if buf[0] != '2' {
		t.Fatalf("got %q, want %q", buf[0], '2')
	}
}

func TestWakeOnMissingFileReturnsIOError(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "does-not-exist.bin"), 0, -1, nil)
	err := s.Wake()
	if err == nil {
		t.Fatalf("expected an error opening a nonexistent file")
	}
	var ioErr *errs.IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("got %T, want *errs.IOError", err)
	}
	if !errors.Is(ioErr.Err, os.ErrNotExist) {
		t.Fatalf("IOError.Err = %v, want os.ErrNotExist", ioErr.Err)
	}
}

func TestWakeOnDirectoryReturnsEISDIR(t *testing.T) {
	s := New(t.TempDir(), 0, -1, nil)
	err := s.Wake()
	if err == nil {
		t.Fatalf("expected an error opening a directory")
	}
	var ioErr *errs.IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("got %T, want *errs.IOError", err)
	}
	if !errors.Is(ioErr.Err, syscall.EISDIR) {
		t.Fatalf("IOError.Err = %v, want syscall.EISDIR", ioErr.Err)
	}
}

func TestExternalStreamServesRangeUntilSleep(t *testing.T) {
	data := []byte("0123456789")
	path := writeTempFile(t, data)

	ext, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening external stream: %v", err)
	}
	defer ext.Close()
	// Leave the handle at an arbitrary offset; Wake must reposition it.
	if _, err := ext.Seek(7, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}

	s := New(path, 2, 5, ext) // range is "23456"
	if err := s.Wake(); err != nil {
		t.Fatalf("Wake: %v", err)
	}
	buf := make([]byte, 3)
	if _, err := io.ReadFull(s, buf); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if string(buf) != "234" {
		t.Fatalf("got %q, want %q", buf, "234")
	}

	// Sleep unbinds the external stream without closing it, and a later
	// read reopens the file itself at the remembered offset.
	if err := s.Sleep(); err != nil {
		t.Fatalf("Sleep: %v", err)
	}
	if _, err := ext.Seek(0, io.SeekCurrent); err != nil {
		t.Fatalf("external stream should still be usable after Sleep: %v", err)
	}
	two := make([]byte, 2)
	if _, err := io.ReadFull(s, two); err != nil {
		t.Fatalf("ReadFull after sleep: %v", err)
	}
	if string(two) != "56" {
		t.Fatalf("got %q, want %q", two, "56")
	}
}

func TestSeekEndAndCurrent(t *testing.T) {
	data := []byte("0123456789")
	path := writeTempFile(t, data)

	s := New(path, 0, -1, nil)
	if _, err := s.Seek(-2, io.SeekEnd); err != nil {
		t.Fatalf("Seek(SeekEnd): %v", err)
	}
	buf := make([]byte, 2)
	if _, err := io.ReadFull(s, buf); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if string(buf) != "89" {
		t.Fatalf("got %q, want %q", buf, "89")
	}

	if _, err := s.Seek(-1, io.SeekCurrent); err != nil {
		t.Fatalf("Seek(SeekCurrent): %v", err)
	}
	one := make([]byte, 1)
	if _, err := s.Read(one); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if one[0] != '9' {
		t.Fatalf("got %q, want %q", one[0], '9')
	}
}
