package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/norasector/bladerf/pkg/bladerf"
	"github.com/norasector/bladerf/pkg/config"
	"github.com/norasector/bladerf/pkg/device/radio"
	"github.com/norasector/bladerf/pkg/driver/file"
	hackrfDriver "github.com/norasector/bladerf/pkg/driver/hackrf"
	"github.com/norasector/bladerf/pkg/driver/libbladerf"
	"github.com/norasector/bladerf/pkg/driver/rtlsdr"
	"github.com/norasector/bladerf/pkg/monitor"
	"github.com/norasector/bladerf/pkg/util"
	"github.com/norasector/turbine-common/types"
	"github.com/samuel/go-hackrf/hackrf"
	"golang.org/x/sync/errgroup"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel)
	configFile := flag.String("config", "rfstream.yaml", "YAML config file")
	flag.Parse()

	opts, err := config.Load(*configFile)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configFile).Msg("failed to load config")
	}
	level, _ := zerolog.ParseLevel(opts.LogLevel)
	log.Logger = log.Logger.Level(level)

	var opener bladerf.Opener
	switch opts.Device.Kind {
	case config.DeviceHackRF:
		if err := hackrf.Init(); err != nil {
			log.Fatal().Str("device", "hackrf").Err(err).Msg("failed to initialize hackRF")
		}
		defer hackrf.Exit()
		opener = hackrfDriver.Opener(hackrfDriver.WithLogger(log.Logger), hackrfDriver.WithAmp(opts.Device.HackRF.Amp))
	case config.DeviceRTLSDR:
		opener = rtlsdr.Opener(rtlsdr.WithLogger(log.Logger))
	case config.DeviceFile:
		opener = file.Opener(
			file.WithLogger(log.Logger),
			file.WithPlayback(opts.Device.Playback),
			file.WithRecord(opts.Device.Record),
			file.WithLoop(opts.Device.Loop),
			file.WithPacing(opts.Device.Pace),
		)
	default:
		opener = libbladerf.Opener()
	}
	log.Info().Str("device", opts.Device.Kind).Msg("initializing device...")

	var writeAPI api.WriteAPI = &util.DiscardWriteAPI{}
	if opts.InfluxDB.Host != "" {
		client := influxdb2.NewClient(opts.InfluxDB.Host, opts.InfluxDB.Token)
		defer client.Close()
		writeAPI = client.WriteAPI(opts.InfluxDB.Organization, opts.InfluxDB.Bucket)
		defer writeAPI.Flush()
	}

	session, err := bladerf.Open(opts.Device.Args, opts.Device.Channels,
		bladerf.WithDriver(opener),
		bladerf.WithLogger(log.Logger),
		bladerf.WithInfluxDB(writeAPI),
		bladerf.WithFaultHandler(func(ev bladerf.FaultEvent) {
			log.Warn().Str("fault", ev.Kind.String()).Int("count", ev.Count).Msg("stream fault")
		}),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open device")
	}
	defer session.Close()

	radioOpts := []radio.RadioOption{
		radio.WithLogger(log.Logger),
		radio.WithInfluxDB(writeAPI),
		radio.WithChannel(opts.RX.Channel),
		radio.WithSegmentSize(opts.RX.SegmentSize),
	}
	if opts.RX.Gain != nil {
		radioOpts = append(radioOpts, radio.WithGain(*opts.RX.Gain))
	}
	receiver, err := radio.NewRadioDevice(session, radioOpts...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create receiver")
	}

	var beacon *radio.Beacon
	if opts.Beacon.Enabled {
		beacon, err = setupBeacon(session, opts)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create beacon")
		}
	}

	monitorServer, err := monitor.NewServer(opts.Monitor.Port, opts.Monitor.UpdateInterval, monitor.WithLogger(log.Logger))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create monitor server")
	}
	bucket := bladerf.ChannelRX(opts.RX.Channel).String()
	spectrum := monitor.NewSpectrumPlotter("spectrum", opts.Monitor.FFTSize, float64(opts.RX.SampleRate), float64(opts.RX.CenterFreq))
	waveform := monitor.NewWaveformPlotter("waveform", opts.Monitor.FFTSize)
	monitorServer.Register(bucket, spectrum)
	monitorServer.Register(bucket, waveform)
	monitorServer.RegisterStats("info", func() interface{} { return session.Info() })
	monitorServer.RegisterStats("stats", func() interface{} { return session.Stats() })
	monitorServer.RegisterStats("spectrum", func() interface{} { return spectrum.Spectrum() })

	segments := make(chan *types.SegmentComplex64, 16)
	beaconDone := make(chan struct{})

	eg, egCtx := errgroup.WithContext(context.Background())
	ctx, cancel := context.WithCancel(egCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	eg.Go(func() error {
		select {
		case <-sigChan:
			log.Info().Msg("shutting down")
		case <-ctx.Done():
		}

		return stopAfter(cancel, func() error {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer shutdownCancel()
			if err := monitorServer.Stop(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("monitor shutdown")
			}
			return receiver.Stop()
		}, beaconDone)
	})

	eg.Go(func() error {
		// the end of a capture file ends the program
		defer cancel()
		defer close(segments)
		return receiver.Start(ctx, opts.RX.CenterFreq, opts.RX.SampleRate, segments)
	})

	eg.Go(func() error {
		return monitor.Tap(ctx, segments, nil, spectrum, waveform)
	})

	eg.Go(func() error {
		return monitorServer.Run(ctx)
	})

	if beacon != nil {
		eg.Go(func() error {
			defer close(beaconDone)
			return beacon.Run(ctx)
		})
	} else {
		close(beaconDone)
	}

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("exited program")
	}
	log.Info().Interface("stats", session.Stats()).Msg("final statistics")
}

// stopAfter cancels the producers, waits for each done channel to close and
// only then runs stop, so no transfer can restart a stream being disabled.
func stopAfter(cancel context.CancelFunc, stop func() error, done ...<-chan struct{}) error {
	cancel()
	for _, ch := range done {
		<-ch
	}
	return stop()
}

func setupBeacon(session *bladerf.Session, opts *config.Config) (*radio.Beacon, error) {
	if _, err := session.SetTxSampleRate(float64(opts.TX.SampleRate)); err != nil {
		return nil, err
	}
	for i := 0; i < session.Channels(bladerf.TX); i++ {
		if _, err := session.SetFrequency(bladerf.TX, i, float64(opts.TX.CenterFreq)); err != nil {
			return nil, err
		}
	}
	if opts.TX.Gain != nil {
		if err := session.SetGain(bladerf.TX, *opts.TX.Gain); err != nil {
			return nil, err
		}
	}
	return radio.NewBeacon(session,
		radio.WithBeaconLogger(log.Logger),
		radio.WithTxChannel(opts.Beacon.Channel),
		radio.WithTone(opts.Beacon.ToneOffset, opts.Beacon.Amplitude),
		radio.WithBurst(opts.Beacon.BurstSamples, opts.Beacon.ChunkSamples),
		radio.WithSchedule(opts.Beacon.Period, opts.Beacon.Lead),
	)
}
