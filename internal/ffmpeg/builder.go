package ffmpeg

import (
	"fmt"
	"strings"
)

// Base returns the binary with flags common to every invocation. Levels are
// prefixed on each stderr line so ParseLogLevel can recover them.
func Base(binary string) string {
	if binary == "" {
		binary = "ffmpeg"
	}
	return binary + " -hide_banner -nostats -loglevel level+warning"
}

// BuildClipCommand reads rgb24 frames from stdin and writes an encoded clip
// to stdout.
func BuildClipCommand(p *ClipParams) string {
	var cmd strings.Builder
	cmd.WriteString(Base(p.Binary))

	fmt.Fprintf(&cmd, " -f rawvideo -pix_fmt rgb24 -s %dx%d -framerate %d -i pipe:0",
		p.Input.Width, p.Input.Height, fps(p.Input.FPS))

	filters := []string{}
	if p.MaxSide > 0 && (p.Input.Width > p.MaxSide || p.Input.Height > p.MaxSide) {
		filters = append(filters, scaleToFit(p.MaxSide))
	}
	// yuv420p needs even dimensions.
	filters = append(filters, "pad=ceil(iw/2)*2:ceil(ih/2)*2", "format=yuv420p")
	cmd.WriteString(" -vf " + strings.Join(filters, ","))

	switch p.Container {
	case "webm":
		cmd.WriteString(" -c:v libvpx-vp9 -deadline realtime -cpu-used 8 -b:v 0")
		if p.CRF > 0 {
			fmt.Fprintf(&cmd, " -crf %d", p.CRF)
		} else {
			cmd.WriteString(" -crf 40")
		}
		cmd.WriteString(" -f webm pipe:1")
	default:
		encoder := p.Encoder
		if encoder == "" {
			encoder = "libx264"
		}
		preset := p.Preset
		if preset == "" {
			preset = "veryfast"
		}
		cmd.WriteString(" -c:v " + encoder + " -preset " + preset)
		if p.CRF > 0 {
			fmt.Fprintf(&cmd, " -crf %d", p.CRF)
		}
		cmd.WriteString(" -movflags frag_keyframe+empty_moov+default_base_moof -f mp4 pipe:1")
	}

	return cmd.String()
}

// BuildDecodeCommand decodes the input into rgb24 frames of a fixed size
// and rate on stdout, letterboxing to preserve the aspect ratio.
func BuildDecodeCommand(p *DecodeParams) string {
	var cmd strings.Builder
	cmd.WriteString(Base(p.Binary))

	ApplyOptionsToCommand(p.Options, &cmd)

	if p.InputFormat != "" {
		cmd.WriteString(" -f " + p.InputFormat)
	}
	input := p.Input
	if input == "" {
		input = "pipe:0"
	}
	cmd.WriteString(" -i " + quote(input))

	w, h := p.Output.Width, p.Output.Height
	fmt.Fprintf(&cmd, " -an -vf fps=%d,scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2",
		fps(p.Output.FPS), w, h, w, h)
	cmd.WriteString(" -pix_fmt rgb24 -f rawvideo pipe:1")

	return cmd.String()
}

func scaleToFit(side int) string {
	return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", side, side)
}

func fps(v int) int {
	if v <= 0 {
		return 10
	}
	return v
}

// quote wraps paths containing spaces for the process command splitter.
func quote(s string) string {
	if !strings.ContainsAny(s, " '\"") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}
