package ffmpeg

// RawVideo describes packed rgb24 frames on a pipe.
type RawVideo struct {
	Width  int
	Height int
	FPS    int
}

// ClipParams describes encoding a sequence of raw frames into a short clip.
type ClipParams struct {
	Binary string // defaults to "ffmpeg"
	Input  RawVideo

	Encoder string // libx264 by default
	Preset  string // veryfast by default
	CRF     int    // 0 = encoder default
	MaxSide int    // downscale so neither side exceeds this; 0 = keep size

	// Container is "mp4" (fragmented, streamable to a pipe) or "webm".
	Container string
}

// DecodeParams describes decoding a compressed stream into raw frames.
type DecodeParams struct {
	Binary string

	// InputFormat forces the demuxer ("ivf", "h264"); empty lets ffmpeg probe.
	InputFormat string
	// Input is a path or "pipe:0".
	Input string

	Output  RawVideo
	Options []OptionType
}
