// Package avbridge is the thin guard layer around the libav media library.
// It is the only package that imports github.com/asticode/go-astiav
// directly; every other package talks to media through the Go-native types
// this package exports.
package avbridge

import (
	"fmt"
	"io"

	"github.com/asticode/go-astiav"

	"github.com/five82/vidtensor/internal/errs"
)

// StreamInfo summarizes the single video stream a Demuxer tracks. Audio,
// subtitle, and data streams are opened by libav for demuxing purposes but
// never surfaced here, since only image frames matter to this module.
type StreamInfo struct {
	Index        int
	Width        int
	Height       int
	Rotation     int // degrees, one of 0/90/180/270
	NumFrames    int64
	FrameRateNum int
	FrameRateDen int
	Duration     float64 // seconds
	BitRate      int64
	PixFmt       astiav.PixelFormat
	TimeBaseNum  int
	TimeBaseDen  int
}

// Demuxer owns a libav format context opened against a custom AVIOContext,
// so the byte source can be a SleepableIO sitting over a plain file or a
// byte range inside a tar archive.
type Demuxer struct {
	ioHandler io.ReadSeeker
	ioCtx     *astiav.IOContext
	fc        *astiav.FormatContext
	stream    *astiav.Stream
	info      StreamInfo
}

// OpenDemuxer probes src (already positioned at the start of the container)
// and locates its first video stream.
func OpenDemuxer(src io.ReadSeeker) (*Demuxer, error) {
	fc := astiav.AllocFormatContext()
	if fc == nil {
		return nil, errs.NewMediaError("avbridge.OpenDemuxer", 0, fmt.Errorf("allocate format context"))
	}

	ioCtx, err := astiav.AllocIOContext(
		4096, false,
		func(buf []byte) (int, error) { return src.Read(buf) },
		func(offset int64, whence int) (int64, error) { return src.Seek(offset, whence) },
		nil,
	)
	if err != nil {
		fc.Free()
		return nil, errs.NewMediaError("avbridge.OpenDemuxer", 0, err)
	}
	fc.SetPb(ioCtx)

	if err := fc.OpenInput("", nil, nil); err != nil {
		ioCtx.Free()
		return nil, errs.NewMediaError("avbridge.OpenDemuxer", 0, err)
	}
	if err := fc.FindStreamInfo(nil); err != nil {
		fc.CloseInput()
		ioCtx.Free()
		return nil, errs.NewMediaError("avbridge.OpenDemuxer", 0, err)
	}

	var videoStream *astiav.Stream
	for _, s := range fc.Streams() {
		if s.CodecParameters().MediaType() == astiav.MediaTypeVideo {
			videoStream = s
			break
		}
	}
	if videoStream == nil {
		fc.CloseInput()
		ioCtx.Free()
		return nil, errs.NewFormatError("no video stream found")
	}

	d := &Demuxer{
		ioHandler: src,
		ioCtx:     ioCtx,
		fc:        fc,
		stream:    videoStream,
	}
	d.populateInfo()
	return d, nil
}

func (d *Demuxer) populateInfo() {
	params := d.stream.CodecParameters()
	rate := d.stream.AvgFrameRate()
	num, den := rate.Num(), rate.Den()
	if num == 0 || den == 0 {
		rate = d.stream.RFrameRate()
		num, den = rate.Num(), rate.Den()
	}

	tb := d.stream.TimeBase()

	d.info = StreamInfo{
		Index:        d.stream.Index(),
		Width:        params.Width(),
		Height:       params.Height(),
		Rotation:     streamRotation(d.stream),
		NumFrames:    d.stream.NbFrames(),
		FrameRateNum: num,
		FrameRateDen: den,
		Duration:     float64(d.stream.Duration()) * tb.Float64(),
		BitRate:      params.BitRate(),
		PixFmt:       params.PixelFormat(),
		TimeBaseNum:  tb.Num(),
		TimeBaseDen:  tb.Den(),
	}
}

func streamRotation(s *astiav.Stream) int {
	for _, sd := range s.SideData() {
		if sd.Type() == astiav.PacketSideDataTypeDisplaymatrix {
			return normalizeRotation(astiav.DisplayMatrixRotation(sd.Data()))
		}
	}
	return 0
}

func normalizeRotation(deg float64) int {
	r := int(deg) % 360
	if r < 0 {
		r += 360
	}
	switch {
	case r >= 315 || r < 45:
		return 0
	case r < 135:
		return 90
	case r < 225:
		return 180
	default:
		return 270
	}
}

// Info returns the video stream's static properties.
func (d *Demuxer) Info() StreamInfo { return d.info }

// SeekToPTS performs a key-frame-backward seek to or before pts on the video
// stream's own time base, the anchor step the packet scheduler takes before
// it walks forward to the requested frame.
func (d *Demuxer) SeekToPTS(pts int64) error {
	if err := d.fc.SeekFrame(d.info.Index, pts, astiav.SeekFlagBackward); err != nil {
		return errs.NewMediaError("avbridge.SeekToPTS", 0, err)
	}
	return nil
}

// Packet is an owned, reusable libav packet belonging to the video stream.
type Packet struct {
	pkt      *astiav.Packet
	IsVideo  bool
	PTS      int64
	DTS      int64
	KeyFrame bool
}

// NewPacket allocates a reusable packet for use with ReadPacket.
func NewPacket() *Packet {
	return &Packet{pkt: astiav.AllocPacket()}
}

// Free releases the underlying libav packet.
func (p *Packet) Free() {
	if p.pkt != nil {
		p.pkt.Free()
		p.pkt = nil
	}
}

// ReadPacket reads the next demuxed packet into p, discarding packets that
// don't belong to the tracked video stream. Returns io.EOF at end of stream.
func (d *Demuxer) ReadPacket(p *Packet) error {
	for {
		p.pkt.Unref()
		if err := d.fc.ReadFrame(p.pkt); err != nil {
			if err == astiav.ErrEof {
				return io.EOF
			}
			return errs.NewMediaError("avbridge.ReadPacket", 0, err)
		}
		if p.pkt.StreamIndex() != d.info.Index {
			continue
		}
		p.IsVideo = true
		p.PTS = p.pkt.Pts()
		p.DTS = p.pkt.Dts()
		p.KeyFrame = p.pkt.Flags().Has(astiav.PacketFlagKey)
		return nil
	}
}

// Close releases the format context, IO context, and any bound resources.
func (d *Demuxer) Close() error {
	if d.fc != nil {
		d.fc.CloseInput()
		d.fc = nil
	}
	if d.ioCtx != nil {
		d.ioCtx.Free()
		d.ioCtx = nil
	}
	return nil
}

// Decoder wraps a libav codec context bound to a demuxer's video stream.
type Decoder struct {
	cc    *astiav.CodecContext
	frame *astiav.Frame
}

// NewDecoder opens a decoder for d's video stream.
func NewDecoder(d *Demuxer) (*Decoder, error) {
	params := d.stream.CodecParameters()
	codec := astiav.FindDecoder(params.CodecID())
	if codec == nil {
		return nil, errs.NewFormatError("no decoder for codec " + params.CodecID().String())
	}
	cc := astiav.AllocCodecContext(codec)
	if cc == nil {
		return nil, errs.NewMediaError("avbridge.NewDecoder", 0, fmt.Errorf("allocate codec context"))
	}
	if err := params.ToCodecContext(cc); err != nil {
		cc.Free()
		return nil, errs.NewMediaError("avbridge.NewDecoder", 0, err)
	}
	if err := cc.Open(codec, nil); err != nil {
		cc.Free()
		return nil, errs.NewMediaError("avbridge.NewDecoder", 0, err)
	}
	return &Decoder{cc: cc, frame: astiav.AllocFrame()}, nil
}

// SendPacket submits a demuxed packet for decoding, or submits a flush
// signal when p is nil.
func (dec *Decoder) SendPacket(p *Packet) error {
	var raw *astiav.Packet
	if p != nil {
		raw = p.pkt
	}
	if err := dec.cc.SendPacket(raw); err != nil {
		return errs.NewMediaError("avbridge.SendPacket", 0, err)
	}
	return nil
}

// DecodedFrame is a libav frame still owned by the decoder; it stays valid
// only until the next ReceiveFrame call.
type DecodedFrame struct {
	frame *astiav.Frame
}

// PTS returns the presentation timestamp attached to the frame.
func (f *DecodedFrame) PTS() int64 { return f.frame.Pts() }

// ReceiveFrame pulls the next available decoded frame. Returns io.EOF when
// the decoder needs more packets (EAGAIN) or has been fully flushed (EOF).
func (dec *Decoder) ReceiveFrame() (*DecodedFrame, error) {
	dec.frame.Unref()
	if err := dec.cc.ReceiveFrame(dec.frame); err != nil {
		if err == astiav.ErrEagain || err == astiav.ErrEof {
			return nil, io.EOF
		}
		return nil, errs.NewMediaError("avbridge.ReceiveFrame", 0, err)
	}
	return &DecodedFrame{frame: dec.frame}, nil
}

// Close releases the decoder's codec context and reusable frame.
func (dec *Decoder) Close() error {
	if dec.frame != nil {
		dec.frame.Free()
		dec.frame = nil
	}
	if dec.cc != nil {
		dec.cc.Free()
		dec.cc = nil
	}
	return nil
}

// RGBConverter rescales/reformats decoded frames to packed RGB24 using a
// small filter graph, the same role go-astiav's swscale bindings or an
// explicit "scale" filter graph play for libav-based tooling.
type RGBConverter struct {
	graph *astiav.FilterGraph
	in    *astiav.FilterContext
	out   *astiav.FilterContext
	frame *astiav.Frame
}

// NewRGBConverter builds a "buffer -> [transpose] -> format -> buffersink"
// filter graph that outputs packed RGB24 pixels. Frames are never
// rescaled by this module; cropping/resizing is the caller's concern.
// rotation, one of 0/90/180/270, inserts a transpose stage so the output
// pixels are already display-oriented when the caller asked for that;
// 0 or 180 needs no geometry change, since a 180-degree rotation only
// flips the pixel content within the same dimensions.
func NewRGBConverter(srcW, srcH int, srcFmt astiav.PixelFormat, timeBaseNum, timeBaseDen, rotation int) (*RGBConverter, error) {
	graph := astiav.AllocFilterGraph()

	bufferArgs := fmt.Sprintf(
		"video_size=%dx%d:pix_fmt=%d:time_base=%d/%d:pixel_aspect=1/1",
		srcW, srcH, int(srcFmt), timeBaseNum, timeBaseDen,
	)

	in, err := graph.NewFilterContext(astiav.FindFilterByName("buffer"), "in", bufferArgs)
	if err != nil {
		graph.Free()
		return nil, errs.NewMediaError("avbridge.NewRGBConverter", 0, err)
	}

	last := in
	if dirArg, ok := transposeArg(rotation); ok {
		transpose, err := graph.NewFilterContext(astiav.FindFilterByName("transpose"), "rot", dirArg)
		if err != nil {
			graph.Free()
			return nil, errs.NewMediaError("avbridge.NewRGBConverter", 0, err)
		}
		if err := last.Link(0, transpose, 0); err != nil {
			graph.Free()
			return nil, errs.NewMediaError("avbridge.NewRGBConverter", 0, err)
		}
		last = transpose
	}

	formatFilter, err := graph.NewFilterContext(astiav.FindFilterByName("format"), "fmt", "pix_fmts=rgb24")
	if err != nil {
		graph.Free()
		return nil, errs.NewMediaError("avbridge.NewRGBConverter", 0, err)
	}

	out, err := graph.NewFilterContext(astiav.FindFilterByName("buffersink"), "out", "")
	if err != nil {
		graph.Free()
		return nil, errs.NewMediaError("avbridge.NewRGBConverter", 0, err)
	}

	if err := last.Link(0, formatFilter, 0); err != nil {
		graph.Free()
		return nil, errs.NewMediaError("avbridge.NewRGBConverter", 0, err)
	}
	if err := formatFilter.Link(0, out, 0); err != nil {
		graph.Free()
		return nil, errs.NewMediaError("avbridge.NewRGBConverter", 0, err)
	}
	if err := graph.Configure(); err != nil {
		graph.Free()
		return nil, errs.NewMediaError("avbridge.NewRGBConverter", 0, err)
	}

	return &RGBConverter{graph: graph, in: in, out: out, frame: astiav.AllocFrame()}, nil
}

// transposeArg returns the "transpose" filter's direction argument for a
// 90/270-degree rotation. dir=1 is clockwise (matches a 90-degree display
// rotation); dir=2 is counter-clockwise (matches 270). 0 and 180 need no
// transpose stage.
func transposeArg(rotation int) (string, bool) {
	switch rotation {
	case 90:
		return "dir=1", true
	case 270:
		return "dir=2", true
	default:
		return "", false
	}
}

// Convert pushes a decoded frame through the graph and returns an owned
// RGB24 frame. The returned frame is only valid until the next Convert call.
func (c *RGBConverter) Convert(f *DecodedFrame) (*astiav.Frame, error) {
	if err := c.in.BuffersrcAddFrame(f.frame, astiav.NewBuffersrcFlags()); err != nil {
		return nil, errs.NewMediaError("avbridge.Convert", 0, err)
	}
	c.frame.Unref()
	if err := c.out.BuffersinkGetFrame(c.frame, astiav.NewBuffersinkFlags()); err != nil {
		return nil, errs.NewMediaError("avbridge.Convert", 0, err)
	}
	return c.frame, nil
}

// Close releases the filter graph and its reusable output frame.
func (c *RGBConverter) Close() error {
	if c.frame != nil {
		c.frame.Free()
		c.frame = nil
	}
	if c.graph != nil {
		c.graph.Free()
		c.graph = nil
	}
	return nil
}

// PixelFormat exposes the astiav pixel format type so callers outside this
// package never need to import go-astiav directly.
type PixelFormat = astiav.PixelFormat
