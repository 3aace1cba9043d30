package tarfs

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeGNUArchive(t *testing.T, entries []tar.Header, contents []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch.tar")

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating archive: %v", err)
	}
	defer f.Close()

	tw := tar.NewWriter(f)
	for i, hdr := range entries {
		hdr.Format = tar.FormatGNU
		if err := tw.WriteHeader(&hdr); err != nil {
			t.Fatalf("writing header for %s: %v", hdr.Name, err)
		}
		if hdr.Typeflag == tar.TypeReg && contents[i] != "" {
			if _, err := tw.Write([]byte(contents[i])); err != nil {
				t.Fatalf("writing content for %s: %v", hdr.Name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("closing archive: %v", err)
	}
	return path
}

func TestListEntriesMatchesFixture(t *testing.T) {
	names := []string{"a.mp4", "dir/", "b.mp4", "empty.mp4", strings.Repeat("long/", 30) + "c.mp4"}
	contents := []string{"aaaa", "", "bb", "", "cccccc"}

	var hdrs []tar.Header
	for i, name := range names {
		typeflag := byte(tar.TypeReg)
		if strings.HasSuffix(name, "/") {
			typeflag = tar.TypeDir
		}
		hdrs = append(hdrs, tar.Header{
			Name:     name,
			Typeflag: typeflag,
			Mode:     0644,
			Size:     int64(len(contents[i])),
		})
	}
	path := writeGNUArchive(t, hdrs, contents)

	it, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer it.Close()

	var got []Entry
	for {
		e, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, e)
	}

	if len(got) != len(names) {
		t.Fatalf("got %d entries, want %d", len(got), len(names))
	}
	for i, e := range got {
		wantType := TypeFile
		if strings.HasSuffix(names[i], "/") {
			wantType = TypeDir
		}
		wantName := strings.TrimSuffix(names[i], "/")
		if e.Name != wantName {
			t.Errorf("entry %d: Name = %q, want %q", i, e.Name, wantName)
		}
		if e.Type != wantType {
			t.Errorf("entry %d (%s): Type = %v, want %v", i, e.Name, e.Type, wantType)
		}
		if e.Size != int64(len(contents[i])) {
			t.Errorf("entry %d (%s): Size = %d, want %d", i, e.Name, e.Size, len(contents[i]))
		}
	}
}

func TestLongPathnameRecoveredVerbatim(t *testing.T) {
	longName := strings.Repeat("nested/", 20) + "video.mp4"
	if len(longName) <= 100 {
		t.Fatalf("test name too short to exercise GNU long-name extension: %d bytes", len(longName))
	}

	hdrs := []tar.Header{{Name: longName, Typeflag: tar.TypeReg, Mode: 0644, Size: 3}}
	path := writeGNUArchive(t, hdrs, []string{"xyz"})

	it, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer it.Close()

	e, err := it.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if e.Name != longName {
		t.Fatalf("Name = %q, want %q", e.Name, longName)
	}
}

func TestEntryContentOffsetIsReadable(t *testing.T) {
	hdrs := []tar.Header{{Name: "a.mp4", Typeflag: tar.TypeReg, Mode: 0644, Size: int64(len("hello-video-bytes"))}}
	path := writeGNUArchive(t, hdrs, []string{"hello-video-bytes"})

	it, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer it.Close()

	e, err := it.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	if _, err := f.Seek(e.ContentOff, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	buf := make([]byte, e.Size)
	if _, err := io.ReadFull(f, buf); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if string(buf) != "hello-video-bytes" {
		t.Fatalf("got %q, want %q", buf, "hello-video-bytes")
	}
}

func TestZeroLengthFileEnumerated(t *testing.T) {
	hdrs := []tar.Header{{Name: "empty.mp4", Typeflag: tar.TypeReg, Mode: 0644, Size: 0}}
	path := writeGNUArchive(t, hdrs, []string{""})

	entries, err := ListEntries(path)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 1 || entries[0].Size != 0 {
		t.Fatalf("got %+v, want exactly one zero-size entry", entries)
	}
}

func TestIteratorNextReturnsEOF(t *testing.T) {
	hdrs := []tar.Header{{Name: "a.mp4", Typeflag: tar.TypeReg, Mode: 0644, Size: 1}}
	path := writeGNUArchive(t, hdrs, []string{"x"})

	it, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer it.Close()

	if _, err := it.Next(); err != nil {
		t.Fatalf("expected first Next to succeed, got %v", err)
	}
	if _, err := it.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF after last entry, got %v", err)
	}
}

// rawBlock builds a single 512-byte tar header block by hand, for
// exercising magic/checksum/size edge cases archive/tar's writer won't
// produce on its own.
func rawBlock(name string, typeflag byte, size int64, corruptMagic, corruptChecksum bool) []byte {
	b := make([]byte, blockSize)
	copy(b[:nameSize], name)
	copy(b[100:108], "0000644\x00")
	copy(b[108:116], "0000000\x00")
	copy(b[116:124], "0000000\x00")

	sizeField := make([]byte, sizeSize)
	copy(sizeField, []byte(padOctal(size, sizeSize-1)+"\x00"))
	copy(b[sizeOffset:sizeOffset+sizeSize], sizeField)

	copy(b[136:148], "00000000000\x00")
	b[typeOff] = typeflag
	if corruptMagic {
		copy(b[magicOff:magicOff+magicSize], "ustar\x0000")
	} else {
		copy(b[magicOff:magicOff+magicSize], gnuMagic)
	}

	for i := chksumOff; i < chksumOff+chksumSize; i++ {
		b[i] = ' '
	}
	if !corruptChecksum {
		var sum int64
		for _, c := range b {
			sum += int64(c)
		}
		chk := padOctal(sum, 6) + "\x00 "
		copy(b[chksumOff:chksumOff+chksumSize], chk)
	} else {
		copy(b[chksumOff:chksumOff+chksumSize], "0000000\x00")
	}
	return b
}

func padOctal(v int64, width int) string {
	s := ""
	if v == 0 {
		s = "0"
	}
	for v > 0 {
		s = string(rune('0'+v%8)) + s
		v /= 8
	}
	for len(s) < width {
		s = "0" + s
	}
	return s
}

func TestPAXMagicRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pax.tar")
	block := rawBlock("a.mp4", tar.TypeReg, 0, true, false)
	if err := os.WriteFile(path, append(block, make([]byte, blockSize*2)...), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	it, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer it.Close()

	_, err = it.Next()
	if err == nil || !strings.Contains(err.Error(), "Magic not match") {
		t.Fatalf("Next: got %v, want an error mentioning %q", err, "Magic not match")
	}
}

func TestChecksumMismatchRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.tar")
	block := rawBlock("a.mp4", tar.TypeReg, 0, false, true)
	if err := os.WriteFile(path, append(block, make([]byte, blockSize*2)...), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	it, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer it.Close()

	if _, err := it.Next(); err == nil {
		t.Fatalf("expected a checksum error")
	}
}

func TestUnsupportedEntryTypeRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "symlink.tar")
	block := rawBlock("link", tar.TypeSymlink, 0, false, false)
	if err := os.WriteFile(path, append(block, make([]byte, blockSize*2)...), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	it, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer it.Close()

	if _, err := it.Next(); err == nil {
		t.Fatalf("expected an unsupported-entry-type error")
	}
}

func TestTruncatedFileRaisesUnexpectedEOF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "truncated.tar")
	block := rawBlock("a.mp4", tar.TypeReg, 100, false, false)
	// Only write the header and a short partial content block, simulating
	// a file that got cut off mid-write.
	if err := os.WriteFile(path, append(block, make([]byte, 10)...), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	it, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer it.Close()

	_, err = it.Next()
	if err == nil || !strings.Contains(err.Error(), "Unexpected EOF") {
		t.Fatalf("Next: got %v, want an error mentioning %q", err, "Unexpected EOF")
	}
}

func TestSizeTooLargeRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "huge.tar")

	b := rawBlock("a.mp4", tar.TypeReg, 0, false, false)
	// Hand-craft a base-256 size field whose value exceeds int64's signed
	// range: high bit set, all value bits set.
	sizeField := make([]byte, sizeSize)
	sizeField[0] = 0xFF
	for i := 1; i < sizeSize; i++ {
		sizeField[i] = 0xFF
	}
	copy(b[sizeOffset:sizeOffset+sizeSize], sizeField)
	for i := chksumOff; i < chksumOff+chksumSize; i++ {
		b[i] = ' '
	}
	var sum int64
	for _, c := range b {
		sum += int64(c)
	}
	copy(b[chksumOff:chksumOff+chksumSize], padOctal(sum, 6)+"\x00 ")

	if err := os.WriteFile(path, append(b, make([]byte, blockSize*2)...), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	it, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer it.Close()

	_, err = it.Next()
	if err == nil || !strings.Contains(err.Error(), "size too large") {
		t.Fatalf("Next: got %v, want an error mentioning %q", err, "size too large")
	}
}
