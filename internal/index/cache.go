// Disk-backed packet index cache. Off by default; enabling it lets repeated
// opens of the same file skip the full forward scan Build performs.
package index

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/five82/vidtensor/internal/errs"
	"github.com/five82/vidtensor/internal/util"
)

// Cache is a directory of one small binary file per indexed video, keyed by
// the video's path, modification time, and size so a stale cache entry is
// never served for a file that has since changed.
type Cache struct {
	dir string
}

// NewCache opens a cache rooted at dir, creating it if necessary.
func NewCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errs.NewIOError("mkdir", dir, err)
	}
	return &Cache{dir: dir}, nil
}

func (c *Cache) keyFor(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", errs.NewIOError("stat", path, err)
	}
	sum := uint64(info.Size())*31 + uint64(info.ModTime().UnixNano())
	return filepath.Join(c.dir, fmt.Sprintf("%x.idx", sum)), nil
}

// Load reads a cached index for path, returning (nil, nil) on a cache miss.
func (c *Cache) Load(path string) (*Index, error) {
	key, err := c.keyFor(path)
	if err != nil {
		return nil, err
	}
	if !util.FileExists(key) {
		return nil, nil
	}

	f, err := os.Open(key)
	if err != nil {
		return nil, errs.NewIOError("open", key, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, errs.NewFormatError("corrupt index cache entry: " + err.Error())
	}

	idx := &Index{
		Entries:     make([]Entry, n),
		KeyFrameIdx: make([]int, n),
	}
	for i := uint64(0); i < n; i++ {
		var pts int64
		var keyFrameFlag uint8
		var order uint64
		var kf uint64
		if err := binary.Read(r, binary.LittleEndian, &pts); err != nil {
			return nil, errs.NewFormatError("corrupt index cache entry: " + err.Error())
		}
		if err := binary.Read(r, binary.LittleEndian, &keyFrameFlag); err != nil {
			return nil, errs.NewFormatError("corrupt index cache entry: " + err.Error())
		}
		if err := binary.Read(r, binary.LittleEndian, &order); err != nil {
			return nil, errs.NewFormatError("corrupt index cache entry: " + err.Error())
		}
		if err := binary.Read(r, binary.LittleEndian, &kf); err != nil {
			return nil, errs.NewFormatError("corrupt index cache entry: " + err.Error())
		}
		idx.Entries[i] = Entry{PTS: pts, KeyFrame: keyFrameFlag != 0, PacketOrder: int(order)}
		idx.KeyFrameIdx[i] = int(kf)
	}
	return idx, nil
}

// Store persists idx for path, first checking there's enough free space to
// bother writing.
func (c *Cache) Store(path string, idx *Index) error {
	key, err := c.keyFor(path)
	if err != nil {
		return err
	}
	if !util.CheckDiskSpace(c.dir, nil) {
		return nil
	}

	f, err := os.Create(key)
	if err != nil {
		return errs.NewIOError("create", key, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	n := uint64(len(idx.Entries))
	if err := binary.Write(w, binary.LittleEndian, n); err != nil {
		return errs.NewIOError("write", key, err)
	}
	for i, e := range idx.Entries {
		var kf uint8
		if e.KeyFrame {
			kf = 1
		}
		if err := binary.Write(w, binary.LittleEndian, e.PTS); err != nil {
			return errs.NewIOError("write", key, err)
		}
		if err := binary.Write(w, binary.LittleEndian, kf); err != nil {
			return errs.NewIOError("write", key, err)
		}
		if err := binary.Write(w, binary.LittleEndian, uint64(e.PacketOrder)); err != nil {
			return errs.NewIOError("write", key, err)
		}
		if err := binary.Write(w, binary.LittleEndian, uint64(idx.KeyFrameIdx[i])); err != nil {
			return errs.NewIOError("write", key, err)
		}
	}
	return w.Flush()
}
