// Package decode implements the decode pipeline: it executes a seek plan
// against a sleepable demuxer, runs the send-packet/receive-frame
// loop, converts each target frame to packed RGB24 through a filter graph,
// and copies the result into a caller-supplied tensor buffer at the right
// batch slot.
package decode

import (
	"io"

	"github.com/asticode/go-astiav"

	"github.com/five82/vidtensor/internal/avbridge"
	"github.com/five82/vidtensor/internal/demux"
	"github.com/five82/vidtensor/internal/errs"
	"github.com/five82/vidtensor/internal/index"
	"github.com/five82/vidtensor/internal/tensor"
)

// Pipeline owns the libav decoder and RGB filter graph for a single video,
// lazily created on first use and torn down whenever the owning video
// sleeps.
type Pipeline struct {
	demux  *demux.Demuxer
	dec    *avbridge.Decoder
	rgb    *avbridge.RGBConverter
	width  int
	height int
}

// New creates a decode pipeline bound to d. Nothing is allocated until the
// first DecodeInto call.
func New(d *demux.Demuxer) *Pipeline {
	return &Pipeline{demux: d}
}

// Close releases the decoder and filter graph. The bound demuxer is left
// alone; callers sleep it separately.
func (p *Pipeline) Close() error {
	var err error
	if p.rgb != nil {
		err = p.rgb.Close()
		p.rgb = nil
	}
	if p.dec != nil {
		if cerr := p.dec.Close(); err == nil {
			err = cerr
		}
		p.dec = nil
	}
	return err
}

func (p *Pipeline) ensureOpen(width, height int, fmtHint astiav.PixelFormat, tbNum, tbDen, rotation int) error {
	if p.dec == nil {
		dec, err := p.demux.NewDecoder()
		if err != nil {
			return err
		}
		p.dec = dec
	}
	if p.rgb == nil || p.width != width || p.height != height {
		if p.rgb != nil {
			_ = p.rgb.Close()
		}
		rgb, err := avbridge.NewRGBConverter(width, height, fmtHint, tbNum, tbDen, rotation)
		if err != nil {
			return err
		}
		p.rgb = rgb
		p.width, p.height = width, height
	}
	return nil
}

// DecodeInto executes steps against entries, writing each yielded frame's
// RGB24 pixels into dst at every batch slot slotsFor(frame) returns: a frame
// requested at several positions of the same batch is decoded once and
// copied to each of them, and when several index entries share one PTS, a
// single decoded frame satisfies all of them. width,
// height, pixFmt, and the stream time base come from the video's cached
// StreamInfo/demuxer and describe the source frames the filter graph
// expects; rotation requests the matching transpose stage so dst's
// dimensions (which may already be swapped by the caller) line up with what
// the filter graph actually emits.
func (p *Pipeline) DecodeInto(
	steps []index.SeekStep,
	entries []index.Entry,
	width, height int,
	pixFmt astiav.PixelFormat,
	tbNum, tbDen, rotation int,
	dst *tensor.Buffer,
	slotsFor func(frame int) []int,
) error {
	if err := p.ensureOpen(width, height, pixFmt, tbNum, tbDen, rotation); err != nil {
		return err
	}

	pkt := avbridge.NewPacket()
	defer pkt.Free()

	for _, step := range steps {
		if err := p.demux.SeekToPTS(entries[step.KeyFrameIdx].PTS); err != nil {
			return err
		}
		// Flush stale reference frames left over from the previous seek.
		if err := p.dec.SendPacket(nil); err != nil {
			return err
		}
		for {
			if _, err := p.dec.ReceiveFrame(); err == io.EOF {
				break
			} else if err != nil {
				return err
			}
		}
		if err := p.reopenDecoder(); err != nil {
			return err
		}

		targetPTS := make(map[int64][]int, len(step.Yield))
		for _, frame := range step.Yield {
			targetPTS[entries[frame].PTS] = append(targetPTS[entries[frame].PTS], frame)
		}

		remaining := len(step.Yield)
		for remaining > 0 {
			err := p.demux.ReadPacket(pkt)
			if err == io.EOF {
				if err := p.dec.SendPacket(nil); err != nil {
					return err
				}
			} else if err != nil {
				return err
			} else {
				if err := p.dec.SendPacket(pkt); err != nil {
					return err
				}
			}

			for {
				f, derr := p.dec.ReceiveFrame()
				if derr == io.EOF {
					break
				}
				if derr != nil {
					return derr
				}
				if frames, ok := targetPTS[f.PTS()]; ok {
					var slots []int
					for _, frame := range frames {
						slots = append(slots, slotsFor(frame)...)
					}
					if err := p.writeFrame(f, dst, slots); err != nil {
						return err
					}
					delete(targetPTS, f.PTS())
					remaining -= len(frames)
				}
			}

			if err == io.EOF && remaining > 0 {
				return errs.NewMediaError("decode.DecodeInto", 0, io.ErrUnexpectedEOF)
			}
		}
	}

	return nil
}

// reopenDecoder rebuilds the codec context after a flush, since libav
// decoders don't reliably resume clean decoding after SendPacket(nil)
// without being reopened for formats with long-lived reference frames.
func (p *Pipeline) reopenDecoder() error {
	if err := p.dec.Close(); err != nil {
		return err
	}
	dec, err := p.demux.NewDecoder()
	if err != nil {
		return err
	}
	p.dec = dec
	return nil
}

// writeFrame converts f to RGB24 once and copies the result into every
// listed batch slot of dst.
func (p *Pipeline) writeFrame(f *avbridge.DecodedFrame, dst *tensor.Buffer, slots []int) error {
	rgbFrame, err := p.rgb.Convert(f)
	if err != nil {
		return err
	}

	data := rgbFrame.Data().Bytes(0)
	linesize := rgbFrame.Linesize()[0]
	rowBytes := dst.Width * 3

	for _, slot := range slots {
		frameOff := slot * dst.Strides[0]
		for row := 0; row < dst.Height; row++ {
			src := data[row*linesize : row*linesize+rowBytes]
			dstOff := frameOff + row*dst.Strides[2]
			copy(dst.Data[dstOff:dstOff+rowBytes], src)
		}
	}
	return nil
}
