package config

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Validate checks the configuration without changing it. Zero values that
// Normalize fills in are accepted.
func Validate(cfg *Config) error {
	if cfg.LogLevel != "" {
		if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
			return fmt.Errorf("log_level %q: %w", cfg.LogLevel, err)
		}
	}

	switch cfg.Device.Kind {
	case "", DeviceBladeRF, DeviceHackRF, DeviceRTLSDR:
	case DeviceFile:
		if cfg.Device.Playback == "" && cfg.Device.Record == "" {
			return fmt.Errorf("device kind %q needs playback_location or record_location", DeviceFile)
		}
	default:
		return fmt.Errorf("unknown device kind %q", cfg.Device.Kind)
	}

	if cfg.Device.Channels < 0 || cfg.Device.Channels > 2 {
		return fmt.Errorf("device channels must be 1 or 2, got %d", cfg.Device.Channels)
	}
	channels := cfg.Device.Channels
	if channels == 0 {
		channels = 1
	}

	if cfg.RX.CenterFreq <= 0 {
		return fmt.Errorf("rx center_freq must be positive, got %d", cfg.RX.CenterFreq)
	}
	if cfg.RX.SampleRate <= 0 {
		return fmt.Errorf("rx sample_rate must be positive, got %d", cfg.RX.SampleRate)
	}
	if cfg.RX.Channel < 0 || cfg.RX.Channel >= channels {
		return fmt.Errorf("rx channel %d out of range for %d channel(s)", cfg.RX.Channel, channels)
	}
	if cfg.RX.SegmentSize < 0 {
		return fmt.Errorf("rx segment_size must be positive, got %d", cfg.RX.SegmentSize)
	}
	if cfg.TX.CenterFreq < 0 || cfg.TX.SampleRate < 0 {
		return fmt.Errorf("tx center_freq and sample_rate must not be negative")
	}

	if cfg.Beacon.Enabled {
		switch cfg.Device.Kind {
		case DeviceRTLSDR:
			return fmt.Errorf("beacon needs a transmitter, device kind %q has none", DeviceRTLSDR)
		case DeviceHackRF:
			return fmt.Errorf("beacon needs full duplex, device kind %q cannot transmit while receiving", DeviceHackRF)
		}
		if cfg.Beacon.Channel < 0 || cfg.Beacon.Channel >= channels {
			return fmt.Errorf("beacon channel %d out of range for %d channel(s)", cfg.Beacon.Channel, channels)
		}
		if cfg.Beacon.Amplitude < 0 || cfg.Beacon.Amplitude > 1 {
			return fmt.Errorf("beacon amplitude must be within [0, 1], got %v", cfg.Beacon.Amplitude)
		}
		if cfg.Beacon.BurstSamples < 0 || cfg.Beacon.ChunkSamples < 0 {
			return fmt.Errorf("beacon burst_samples and chunk_samples must not be negative")
		}
		if cfg.Beacon.Period < 0 || cfg.Beacon.Lead < 0 {
			return fmt.Errorf("beacon period and lead must not be negative")
		}
	}

	if cfg.Monitor.Port < 0 || cfg.Monitor.Port > 65535 {
		return fmt.Errorf("monitor port %d out of range", cfg.Monitor.Port)
	}
	if cfg.Monitor.UpdateInterval < 0 {
		return fmt.Errorf("monitor update_interval must not be negative")
	}
	if n := cfg.Monitor.FFTSize; n < 0 || n&(n-1) != 0 {
		return fmt.Errorf("monitor fft_size must be a power of two, got %d", n)
	}

	if cfg.InfluxDB.Host != "" && (cfg.InfluxDB.Organization == "" || cfg.InfluxDB.Bucket == "") {
		return fmt.Errorf("influxdb host %q needs organization and bucket", cfg.InfluxDB.Host)
	}
	return nil
}
