// Package config holds the YAML configuration of rfstream.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	DeviceBladeRF = "bladerf"
	DeviceHackRF  = "hackrf"
	DeviceRTLSDR  = "rtlsdr"
	DeviceFile    = "file"
)

type Config struct {
	LogLevel string `yaml:"log_level"`

	Device struct {
		Kind     string `yaml:"kind"`
		Args     string `yaml:"args"`
		Channels int    `yaml:"channels"`
		HackRF   struct {
			Amp bool `yaml:"amp"`
		} `yaml:"hackrf"`
		Playback string `yaml:"playback_location"`
		Record   string `yaml:"record_location"`
		Loop     bool   `yaml:"loop"`
		Pace     bool   `yaml:"pace"`
	} `yaml:"device"`

	RX struct {
		CenterFreq  int      `yaml:"center_freq"`
		SampleRate  int      `yaml:"sample_rate"`
		Gain        *float64 `yaml:"gain"`
		Channel     int      `yaml:"channel"`
		SegmentSize int      `yaml:"segment_size"`
	} `yaml:"rx"`

	TX struct {
		CenterFreq int      `yaml:"center_freq"`
		SampleRate int      `yaml:"sample_rate"`
		Gain       *float64 `yaml:"gain"`
	} `yaml:"tx"`

	Beacon struct {
		Enabled      bool          `yaml:"enabled"`
		Channel      int           `yaml:"channel"`
		ToneOffset   float64       `yaml:"tone_offset"`
		Amplitude    float32       `yaml:"amplitude"`
		BurstSamples int           `yaml:"burst_samples"`
		ChunkSamples int           `yaml:"chunk_samples"`
		Period       time.Duration `yaml:"period"`
		Lead         time.Duration `yaml:"lead"`
	} `yaml:"beacon"`

	Monitor struct {
		Port           int           `yaml:"port"`
		UpdateInterval time.Duration `yaml:"update_interval"`
		FFTSize        int           `yaml:"fft_size"`
	} `yaml:"monitor"`

	InfluxDB struct {
		Host         string `yaml:"host"`
		Token        string `yaml:"token"`
		Organization string `yaml:"organization"`
		Bucket       string `yaml:"bucket"`
	} `yaml:"influxdb"`
}

// Load reads path, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return Parse(contents)
}

func Parse(contents []byte) (*Config, error) {
	var cfg Config
	if err := yaml.UnmarshalStrict(contents, &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling yaml: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	Normalize(&cfg)
	return &cfg, nil
}

// Normalize fills in defaults. It must run after Validate.
func Normalize(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Device.Kind == "" {
		cfg.Device.Kind = DeviceBladeRF
		if cfg.Device.Playback != "" {
			cfg.Device.Kind = DeviceFile
		}
	}
	if cfg.Device.Channels == 0 {
		cfg.Device.Channels = 1
	}
	if cfg.RX.SegmentSize == 0 {
		cfg.RX.SegmentSize = 16384
	}
	if cfg.TX.CenterFreq == 0 {
		cfg.TX.CenterFreq = cfg.RX.CenterFreq
	}
	if cfg.TX.SampleRate == 0 {
		cfg.TX.SampleRate = cfg.RX.SampleRate
	}
	if cfg.Beacon.Amplitude == 0 {
		cfg.Beacon.Amplitude = 0.5
	}
	if cfg.Beacon.BurstSamples == 0 {
		cfg.Beacon.BurstSamples = 4096
	}
	if cfg.Beacon.ChunkSamples == 0 {
		cfg.Beacon.ChunkSamples = 2048
	}
	if cfg.Beacon.Period == 0 {
		cfg.Beacon.Period = time.Second
	}
	if cfg.Beacon.Lead == 0 {
		cfg.Beacon.Lead = 50 * time.Millisecond
	}
	if cfg.Monitor.UpdateInterval == 0 {
		cfg.Monitor.UpdateInterval = 500 * time.Millisecond
	}
	if cfg.Monitor.FFTSize == 0 {
		cfg.Monitor.FFTSize = 2048
	}
}
