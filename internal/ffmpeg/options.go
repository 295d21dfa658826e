package ffmpeg

import (
	"fmt"
	"strings"
)

// OptionType is an input-side behaviour flag for decode commands.
type OptionType string

const (
	OptionGeneratePTS    OptionType = "genpts"
	OptionIgnoreDTS      OptionType = "igndts"
	OptionIgnoreErrors   OptionType = "ignore_err"
	OptionLowLatency     OptionType = "low_latency"
	OptionWallclock      OptionType = "wallclock_ts"
	OptionSmallProbe     OptionType = "small_probe"
	OptionThreadQueue512 OptionType = "thread_queue_512"
)

// Option documents a flag.
type Option struct {
	Key           OptionType   `json:"key"`
	Name          string       `json:"name"`
	Description   string       `json:"description"`
	AppDefault    bool         `json:"app_default"`
	ConflictsWith []OptionType `json:"conflicts_with,omitempty"`
}

// AllOptions lists every supported flag.
var AllOptions = []Option{
	{
		Key:           OptionGeneratePTS,
		Name:          "Generate PTS",
		Description:   "Generate missing presentation timestamps",
		AppDefault:    true,
		ConflictsWith: []OptionType{OptionWallclock},
	},
	{
		Key:         OptionIgnoreDTS,
		Name:        "Ignore DTS",
		Description: "Ignore decode timestamps from the sender",
	},
	{
		Key:         OptionIgnoreErrors,
		Name:        "Ignore Errors",
		Description: "Keep decoding across corrupt packets",
		AppDefault:  true,
	},
	{
		Key:         OptionLowLatency,
		Name:        "Low Latency",
		Description: "Disable input buffering",
		AppDefault:  true,
	},
	{
		Key:           OptionWallclock,
		Name:          "Wallclock Timestamps",
		Description:   "Stamp packets with arrival time",
		ConflictsWith: []OptionType{OptionGeneratePTS},
	},
	{
		Key:         OptionSmallProbe,
		Name:        "Small Probe",
		Description: "Start decoding after a short probe",
		AppDefault:  true,
	},
	{
		Key:         OptionThreadQueue512,
		Name:        "Thread Queue 512",
		Description: "Larger input packet queue",
	},
}

// GetOptionByKey returns the option for key, or nil.
func GetOptionByKey(key OptionType) *Option {
	for i := range AllOptions {
		if AllOptions[i].Key == key {
			return &AllOptions[i]
		}
	}
	return nil
}

// GetDefaultOptions returns the flags enabled by default.
func GetDefaultOptions() []OptionType {
	var out []OptionType
	for _, o := range AllOptions {
		if o.AppDefault {
			out = append(out, o.Key)
		}
	}
	return out
}

// ParseOptions converts names from configuration, rejecting unknown ones.
func ParseOptions(names []string) ([]OptionType, error) {
	out := make([]OptionType, 0, len(names))
	for _, name := range names {
		key := OptionType(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		if GetOptionByKey(key) == nil {
			return nil, fmt.Errorf("unknown ffmpeg option %q", name)
		}
		out = append(out, key)
	}
	return out, ValidateOptions(out)
}

// ValidateOptions reports the first pair of conflicting flags.
func ValidateOptions(selected []OptionType) error {
	set := make(map[OptionType]bool, len(selected))
	for _, key := range selected {
		set[key] = true
	}
	for _, key := range selected {
		opt := GetOptionByKey(key)
		if opt == nil {
			continue
		}
		for _, other := range opt.ConflictsWith {
			if set[other] {
				return fmt.Errorf("option %s conflicts with %s", key, other)
			}
		}
	}
	return nil
}

// ApplyOptionsToCommand writes the input flags for options, in a stable
// order, and returns the options it applied.
func ApplyOptionsToCommand(options []OptionType, cmd *strings.Builder) []OptionType {
	set := make(map[OptionType]bool, len(options))
	for _, o := range options {
		set[o] = true
	}

	var applied []OptionType
	var fflags []string
	for _, o := range []OptionType{OptionGeneratePTS, OptionIgnoreDTS, OptionLowLatency} {
		if !set[o] {
			continue
		}
		applied = append(applied, o)
		switch o {
		case OptionGeneratePTS:
			fflags = append(fflags, "+genpts")
		case OptionIgnoreDTS:
			fflags = append(fflags, "+igndts")
		case OptionLowLatency:
			fflags = append(fflags, "+nobuffer")
		}
	}
	if len(fflags) > 0 {
		cmd.WriteString(" -fflags " + strings.Join(fflags, ""))
	}
	if set[OptionLowLatency] {
		cmd.WriteString(" -flags low_delay")
	}
	if set[OptionIgnoreErrors] {
		applied = append(applied, OptionIgnoreErrors)
		cmd.WriteString(" -err_detect ignore_err")
	}
	if set[OptionWallclock] {
		applied = append(applied, OptionWallclock)
		cmd.WriteString(" -use_wallclock_as_timestamps 1")
	}
	if set[OptionSmallProbe] {
		applied = append(applied, OptionSmallProbe)
		cmd.WriteString(" -probesize 32768 -analyzeduration 0")
	}
	if set[OptionThreadQueue512] {
		applied = append(applied, OptionThreadQueue512)
		cmd.WriteString(" -thread_queue_size 512")
	}
	return applied
}
