// Package taropen implements the tar-batch video opener: list a tar
// archive's entries once, then probe each selected entry's stream info
// either in sequence (maxThreads == 1, sharing a single archive file handle
// across every probe) or fanned out across maxThreads workers, each using
// its own private byte-range stream into the archive rather than sharing
// one read position.
package taropen

import (
	"context"
	"io"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/five82/vidtensor/internal/avbridge"
	"github.com/five82/vidtensor/internal/demux"
	"github.com/five82/vidtensor/internal/errs"
	"github.com/five82/vidtensor/internal/ioadapt"
	"github.com/five82/vidtensor/internal/tarfs"
)

// Filter selects which tar entries are treated as videos. A nil filter
// accepts every regular-file entry.
type Filter func(tarfs.Entry) bool

// Opened is one successfully probed video from inside a tar archive.
type Opened struct {
	Name   string
	Opener demux.Opener
	Info   avbridge.StreamInfo
}

// Open lists archivePath's entries and probes each one selected by filter.
//
// maxThreads fans the probe step out across that many workers, each opening
// its own private SleepableIO range view into archivePath; maxThreads == 1
// degenerates to the single-threaded form (one entry probed at a time on
// the calling goroutine, skipping the errgroup machinery entirely).
// maxThreads <= 0 is a LogicError.
func Open(archivePath string, filter Filter, maxThreads int) ([]Opened, error) {
	if maxThreads <= 0 {
		return nil, errs.NewLogicError("taropen: max_threads must be >= 1")
	}

	entries, err := tarfs.ListEntries(archivePath)
	if err != nil {
		return nil, err
	}

	var selected []tarfs.Entry
	for _, e := range entries {
		if e.Type != tarfs.TypeFile {
			continue
		}
		if filter == nil || filter(e) {
			selected = append(selected, e)
		}
	}

	if maxThreads == 1 {
		return probeSequential(archivePath, selected)
	}
	return probeParallel(archivePath, selected, maxThreads)
}

// probeOne probes one entry through probeOpener, then sleeps the demuxer.
// The returned Opened carries durable, the opener later wakes will go
// through; probeOpener may be a transient shared-stream binding that is
// only valid for this one probe.
func probeOne(e tarfs.Entry, probeOpener, durable demux.Opener) (Opened, error) {
	d := demux.New(probeOpener)
	info, err := d.Info()
	if err != nil {
		return Opened{}, err
	}
	if err := d.Sleep(); err != nil {
		return Opened{}, err
	}
	return Opened{Name: e.Name, Opener: durable, Info: info}, nil
}

// probeSequential probes every entry on the calling goroutine through a
// single shared archive file handle: each probe binds the handle as the
// range view's external stream, and the sleep at the end of the probe
// unbinds it again without closing it, so the whole pass costs one file
// descriptor no matter how many entries the archive holds.
func probeSequential(archivePath string, entries []tarfs.Entry) ([]Opened, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	shared, err := os.Open(archivePath)
	if err != nil {
		return nil, errs.NewIOError("open", archivePath, err)
	}
	defer shared.Close()

	out := make([]Opened, 0, len(entries))
	for _, e := range entries {
		probe := func() (io.ReadSeeker, error) {
			sio := ioadapt.New(archivePath, e.ContentOff, e.Size, shared)
			if err := sio.Wake(); err != nil {
				return nil, err
			}
			return sio, nil
		}
		durable := demux.OpenerForTarRange(archivePath, e.ContentOff, e.Size)
		o, err := probeOne(e, probe, durable)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func probeParallel(archivePath string, entries []tarfs.Entry, maxThreads int) ([]Opened, error) {
	out := make([]Opened, len(entries))

	g, _ := errgroup.WithContext(context.Background())
	g.SetLimit(maxThreads)

	for i, e := range entries {
		i, e := i, e
		g.Go(func() error {
			// Each worker opens its own private range view; the probe
			// opener and the durable opener are the same thing here.
			opener := demux.OpenerForTarRange(archivePath, e.ContentOff, e.Size)
			o, err := probeOne(e, opener, opener)
			if err != nil {
				return err
			}
			out[i] = o
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
