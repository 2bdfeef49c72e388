package bladerf

import (
	"strconv"
	"strings"

	"github.com/norasector/bladerf/pkg/iq"
	"github.com/rs/zerolog"
)

// Args are the device options resolved from a key=value argument string.
type Args struct {
	TxChannels int
	RxChannels int
	Format     iq.Format
	LogLevel   zerolog.Level
	DeviceID   string
	TuningMode TuningMode
}

var logLevels = map[string]zerolog.Level{
	"verbose":  zerolog.TraceLevel,
	"debug":    zerolog.DebugLevel,
	"info":     zerolog.InfoLevel,
	"warn":     zerolog.WarnLevel,
	"error":    zerolog.ErrorLevel,
	"critical": zerolog.FatalLevel,
	"silent":   zerolog.Disabled,
}

// splitArgs breaks s into key/value pairs. Pairs are separated by commas or
// whitespace; keys without a value are ignored.
func splitArgs(s string) map[string]string {
	ret := make(map[string]string)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	for _, f := range fields {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		ret[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return ret
}

// ParseArgs resolves device options for a session opened with the given number
// of channels. Channel counts that are missing, zero or larger than channels
// default to channels. Unknown keys are ignored so argument strings can be
// shared with other frontends.
func ParseArgs(s string, channels int) (Args, error) {
	const op = "parse args"

	if channels < 1 || channels > 2 {
		return Args{}, configError(op, "invalid nof_channels %d, should be 1 or 2", channels)
	}

	kv := splitArgs(s)
	ret := Args{
		TxChannels: channels,
		RxChannels: channels,
		Format:     iq.SC16Q11,
		LogLevel:   zerolog.Disabled,
		TuningMode: TuningModeHost,
	}

	for _, key := range []string{"nof_tx_channels", "nof_rx_channels"} {
		v, ok := kv[key]
		if !ok {
			continue
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return Args{}, configError(op, "invalid %s %q: %w", key, v, err)
		}
		if n == 0 || int(n) > channels {
			continue
		}
		if key == "nof_tx_channels" {
			ret.TxChannels = int(n)
		} else {
			ret.RxChannels = int(n)
		}
	}

	if v, ok := kv["format"]; ok {
		f, err := iq.ParseFormat(v)
		if err != nil {
			return Args{}, configError(op, "%w", err)
		}
		ret.Format = f
	}

	if v, ok := kv["log_level"]; ok {
		level, ok := logLevels[v]
		if !ok {
			return Args{}, configError(op, "invalid log_level %q, should be verbose, debug, info, warn, error, critical or silent", v)
		}
		ret.LogLevel = level
	}

	ret.DeviceID = kv["device_id"]

	if v, ok := kv["tuning_mode"]; ok {
		switch v {
		case "host":
			ret.TuningMode = TuningModeHost
		case "fpga":
			ret.TuningMode = TuningModeFPGA
		default:
			return Args{}, configError(op, "invalid tuning_mode %q, should be host or fpga", v)
		}
	}

	return ret, nil
}
