// Package demux provides the sleepable demuxer wrapper: a Demuxer that can
// release its libav format context and IO adapter entirely
// while asleep, and rebuild both from scratch on wake, so an idle video
// costs nothing but a file path and a cached StreamInfo.
package demux

import (
	"io"

	"github.com/five82/vidtensor/internal/avbridge"
	"github.com/five82/vidtensor/internal/ioadapt"
)

// Opener produces a fresh, start-of-range byte source for a video each time
// the demuxer wakes. OpenVideo binds this to a plain-file SleepableIO;
// OpenVideoTar binds it to a tar byte-range view.
type Opener func() (io.ReadSeeker, error)

// Demuxer is a sleep/wake-capable wrapper around an avbridge.Demuxer.
type Demuxer struct {
	open     Opener
	src      io.ReadSeeker
	inner    *avbridge.Demuxer
	info     avbridge.StreamInfo
	haveInfo bool
}

// New creates a Demuxer bound to open. The underlying media isn't touched
// until the first Wake.
func New(open Opener) *Demuxer {
	return &Demuxer{open: open}
}

// IsSleeping reports whether the demuxer currently holds no libav resources.
func (d *Demuxer) IsSleeping() bool {
	return d.inner == nil
}

// Wake (re)opens the underlying source and probes it with libav. A no-op if
// already awake.
func (d *Demuxer) Wake() error {
	if d.inner != nil {
		return nil
	}

	src, err := d.open()
	if err != nil {
		return err
	}

	inner, err := avbridge.OpenDemuxer(src)
	if err != nil {
		if closer, ok := src.(io.Closer); ok {
			_ = closer.Close()
		}
		return err
	}

	d.src = src
	d.inner = inner
	if !d.haveInfo {
		d.info = inner.Info()
		d.haveInfo = true
	}
	return nil
}

// Sleep releases the libav format context and the underlying byte source.
// Previously cached StreamInfo survives so Info() keeps working while
// asleep.
func (d *Demuxer) Sleep() error {
	if d.inner == nil {
		return nil
	}
	err := d.inner.Close()
	d.inner = nil

	if closer, ok := d.src.(io.Closer); ok {
		if cerr := closer.Close(); err == nil {
			err = cerr
		}
	}
	d.src = nil
	return err
}

// Info returns the video stream's static properties, waking the demuxer
// first if this is the very first call.
func (d *Demuxer) Info() (avbridge.StreamInfo, error) {
	if !d.haveInfo {
		if err := d.Wake(); err != nil {
			return avbridge.StreamInfo{}, err
		}
	}
	return d.info, nil
}

// SeekToPTS seeks the underlying demuxer, waking it first if necessary.
func (d *Demuxer) SeekToPTS(pts int64) error {
	if err := d.Wake(); err != nil {
		return err
	}
	return d.inner.SeekToPTS(pts)
}

// ReadPacket reads the next packet, waking the demuxer first if necessary.
func (d *Demuxer) ReadPacket(p *avbridge.Packet) error {
	if err := d.Wake(); err != nil {
		return err
	}
	return d.inner.ReadPacket(p)
}

// NewDecoder opens a decoder bound to this demuxer's current libav state.
// The demuxer must be awake; callers normally call this right after a
// SeekToPTS/ReadPacket pair.
func (d *Demuxer) NewDecoder() (*avbridge.Decoder, error) {
	if err := d.Wake(); err != nil {
		return nil, err
	}
	return avbridge.NewDecoder(d.inner)
}

// OpenerForFile returns an Opener that serves a plain on-disk file through a
// sleepable range view covering the whole file.
func OpenerForFile(path string) Opener {
	return func() (io.ReadSeeker, error) {
		sio := ioadapt.New(path, 0, -1, nil)
		if err := sio.Wake(); err != nil {
			return nil, err
		}
		return sio, nil
	}
}

// OpenerForTarRange returns an Opener that serves the byte range [off,
// off+size) of a tar archive through a sleepable range view.
func OpenerForTarRange(archivePath string, off, size int64) Opener {
	return func() (io.ReadSeeker, error) {
		sio := ioadapt.New(archivePath, off, size, nil)
		if err := sio.Wake(); err != nil {
			return nil, err
		}
		return sio, nil
	}
}
