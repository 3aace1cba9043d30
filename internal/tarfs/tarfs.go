// Package tarfs implements a forward-only walk over a GNU-format tar
// archive that records each entry's byte range within the underlying file
// rather than buffering content, so a video's bytes can later be served
// through a range-bounded SleepableIO instead of through a generic tar
// reader.
//
// The GNU format is hand-parsed rather than delegated to archive/tar:
// callers depend on distinguishable failures ("Magic not match",
// "Unexpected EOF", "size too large") and GNU-specific details (the 8-byte
// "ustar  \0" magic rather than POSIX ustar's "ustar\0"+"00", base-256
// binary sizes, the checksum algorithm) that a generic tar reader doesn't
// expose.
package tarfs

import (
	"io"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/five82/vidtensor/internal/errs"
)

const (
	blockSize  = 512
	nameSize   = 100
	sizeOffset = 124
	sizeSize   = 12
	chksumOff  = 148
	chksumSize = 8
	typeOff    = 156
	magicOff   = 257
	magicSize  = 8
)

// gnuMagic is the exact 8-byte magic+version field GNU tar writes; POSIX
// ustar (and PAX, which is POSIX ustar plus extension headers) writes
// "ustar\x0000" instead and is rejected.
const gnuMagic = "ustar  \x00"

// EntryType distinguishes the tar entry kinds this package recognizes.
type EntryType int

const (
	// TypeFile is a regular file entry.
	TypeFile EntryType = iota
	// TypeDir is a directory entry.
	TypeDir
)

// Entry describes one file or directory inside a tar archive: its resolved
// path (long-pathname 'L' entries already folded in), type, and, for
// files, the byte range of its content within the archive.
type Entry struct {
	Name       string
	Type       EntryType
	ContentOff int64
	Size       int64
}

// Iterator walks a tar archive's entries in storage order, advancing past
// each entry's header and (rounded-up) content before returning it.
type Iterator struct {
	file        *os.File
	fileSize    int64
	pos         int64
	pendingName string
	done        bool
}

// Open starts a forward iteration over the tar archive at path, hinting the
// OS that the whole file will be read sequentially.
func Open(path string) (*Iterator, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.NewIOError("open", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errs.NewIOError("stat", path, err)
	}
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
	return &Iterator{file: f, fileSize: info.Size()}, nil
}

// Path returns the path of the archive backing this iterator, for callers
// that want to open independent range views without holding the iterator
// open.
func (it *Iterator) Path() string {
	return it.file.Name()
}

// Close releases the underlying file handle. The Iterator itself is meant
// to be discarded after iteration; long-lived byte access goes through a
// fresh range view instead, since the iterator's single stream can serve
// only one reader's position at a time.
func (it *Iterator) Close() error {
	if it.file == nil {
		return nil
	}
	err := it.file.Close()
	it.file = nil
	return err
}

// Next advances to the next file or directory entry, transparently folding
// GNU long-pathname ('L') extension entries into the Name of the entry
// that follows them. Returns io.EOF once two consecutive all-zero blocks
// have been read (normal tar end-of-archive marker).
func (it *Iterator) Next() (Entry, error) {
	for {
		if it.done {
			return Entry{}, io.EOF
		}

		block, err := it.readBlock()
		if err == io.EOF {
			return Entry{}, errs.NewFormatError("tar: Unexpected EOF")
		}
		if err != nil {
			return Entry{}, err
		}

		if isZeroBlock(block) {
			next, err := it.readBlock()
			if err == io.EOF || isZeroBlock(next) {
				it.done = true
				return Entry{}, io.EOF
			}
			if err != nil {
				return Entry{}, err
			}
			block = next
		}

		if string(block[magicOff:magicOff+magicSize]) != gnuMagic {
			return Entry{}, errs.NewFormatError("tar: Magic not match")
		}
		if !checksumValid(block) {
			return Entry{}, errs.NewFormatError("tar: header checksum mismatch")
		}

		size, err := parseSize(block[sizeOffset : sizeOffset+sizeSize])
		if err != nil {
			return Entry{}, err
		}

		name := cString(block[:nameSize])
		typeflag := block[typeOff]
		contentOff := it.pos

		switch typeflag {
		case 'L':
			longName, err := it.readLongName(size)
			if err != nil {
				return Entry{}, err
			}
			it.pendingName = longName
			continue

		case '0', 0:
			if it.pendingName != "" {
				name = it.pendingName
				it.pendingName = ""
			}
			if err := it.skipContent(size); err != nil {
				return Entry{}, err
			}
			if size > 0 {
				_ = unix.Fadvise(int(it.file.Fd()), contentOff, size, unix.FADV_WILLNEED)
			}
			return Entry{Name: name, Type: TypeFile, ContentOff: contentOff, Size: size}, nil

		case '5':
			if it.pendingName != "" {
				name = it.pendingName
				it.pendingName = ""
			}
			if err := it.skipContent(size); err != nil {
				return Entry{}, err
			}
			// Tar stores directories with a trailing slash; report the
			// bare path.
			name = strings.TrimSuffix(name, "/")
			return Entry{Name: name, Type: TypeDir, ContentOff: contentOff, Size: 0}, nil

		default:
			return Entry{}, errs.NewFormatError("tar: unsupported entry type")
		}
	}
}

// ListEntries fully drains an Iterator, collecting every entry. Used by the
// multi-threaded tar opener, which needs the complete entry list up front
// before fanning work out across its own worker streams.
func ListEntries(path string) ([]Entry, error) {
	it, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var entries []Entry
	for {
		e, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (it *Iterator) readBlock() ([]byte, error) {
	buf := make([]byte, blockSize)
	n, err := io.ReadFull(it.file, buf)
	it.pos += int64(n)
	if err == io.ErrUnexpectedEOF {
		return nil, errs.NewFormatError("tar: Unexpected EOF")
	}
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, errs.NewIOError("read", it.file.Name(), err)
	}
	return buf, nil
}

// readLongName reads a GNU 'L' entry's content: the real path of the entry
// that follows, stored as a null-terminated string padded to a block
// boundary.
func (it *Iterator) readLongName(size int64) (string, error) {
	if size < 0 {
		return "", errs.NewFormatError("tar: size too large")
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(it.file, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return "", errs.NewFormatError("tar: Unexpected EOF")
		}
		return "", errs.NewIOError("read", it.file.Name(), err)
	}
	it.pos += size
	if err := it.skipPadding(size); err != nil {
		return "", err
	}
	return cString(buf), nil
}

// skipContent advances past size bytes of entry content, rounded up to the
// next block boundary, without reading it into memory. The archive's known
// total length is checked first so a file whose content was cut short
// (e.g. by a truncated write) is caught here rather than silently
// producing an Entry whose byte range runs past end-of-file: Seek alone
// would succeed even past EOF and wouldn't catch this.
func (it *Iterator) skipContent(size int64) error {
	if size < 0 {
		return errs.NewFormatError("tar: size too large")
	}
	if size == 0 {
		return nil
	}
	if it.pos+size > it.fileSize {
		return errs.NewFormatError("tar: Unexpected EOF")
	}
	if _, err := it.file.Seek(size, io.SeekCurrent); err != nil {
		return errs.NewIOError("seek", it.file.Name(), err)
	}
	it.pos += size
	return it.skipPadding(size)
}

func (it *Iterator) skipPadding(size int64) error {
	pad := (blockSize - size%blockSize) % blockSize
	if pad == 0 {
		return nil
	}
	if it.pos+pad > it.fileSize {
		return errs.NewFormatError("tar: Unexpected EOF")
	}
	if _, err := it.file.Seek(pad, io.SeekCurrent); err != nil {
		return errs.NewIOError("seek", it.file.Name(), err)
	}
	it.pos += pad
	return nil
}

func isZeroBlock(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func cString(b []byte) string {
	if i := indexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return strings.TrimRight(string(b), " ")
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// parseSize decodes a tar header's 12-byte size field, supporting both
// octal ASCII (the common case) and GNU's base-256 binary form, which is
// signaled by the high bit of the first byte being set.
func parseSize(field []byte) (int64, error) {
	if field[0]&0x80 != 0 {
		return parseBase256(field)
	}
	return parseOctal(field)
}

func parseOctal(field []byte) (int64, error) {
	s := strings.TrimRight(strings.TrimLeft(string(field), " "), " \x00")
	if s == "" {
		return 0, nil
	}
	var v int64
	for _, c := range []byte(s) {
		if c < '0' || c > '7' {
			return 0, errs.NewFormatError("tar: malformed octal size field")
		}
		next := v*8 + int64(c-'0')
		if next < v {
			return 0, errs.NewFormatError("tar: size too large")
		}
		v = next
	}
	return v, nil
}

// parseBase256 decodes GNU tar's binary size extension: the first byte's
// top bit is the marker (already checked by the caller), its remaining 7
// bits plus the following 11 bytes form a big-endian two's-complement
// integer. Values that don't fit in a signed 63-bit range are rejected as
// "size too large".
func parseBase256(field []byte) (int64, error) {
	negative := field[0]&0x40 != 0
	var v uint64
	first := field[0] & 0x3f
	if first != 0 {
		return 0, errs.NewFormatError("tar: size too large")
	}
	for _, b := range field[1:] {
		if v&0xFF00000000000000 != 0 {
			return 0, errs.NewFormatError("tar: size too large")
		}
		v = v<<8 | uint64(b)
	}
	if v > 1<<63-1 {
		return 0, errs.NewFormatError("tar: size too large")
	}
	if negative {
		return -int64(v), nil
	}
	return int64(v), nil
}

// checksumValid recomputes a header's checksum both ways GNU tar accepts:
// the standard unsigned byte sum, and the legacy signed-byte sum some old
// implementations wrote, with the checksum field itself treated as eight
// ASCII spaces while summing.
func checksumValid(block []byte) bool {
	stored, err := parseOctalLoose(block[chksumOff : chksumOff+chksumSize])
	if err != nil {
		return false
	}

	var unsigned int64
	var signed int64
	for i, b := range block {
		v := b
		if i >= chksumOff && i < chksumOff+chksumSize {
			v = ' '
		}
		unsigned += int64(v)
		signed += int64(int8(v))
	}
	return unsigned == stored || signed == stored
}

func parseOctalLoose(field []byte) (int64, error) {
	s := strings.TrimRight(strings.TrimLeft(string(field), " "), " \x00")
	if s == "" {
		return 0, errs.NewFormatError("tar: empty checksum field")
	}
	var v int64
	for _, c := range []byte(s) {
		if c < '0' || c > '7' {
			return 0, errs.NewFormatError("tar: malformed checksum field")
		}
		v = v*8 + int64(c-'0')
	}
	return v, nil
}
