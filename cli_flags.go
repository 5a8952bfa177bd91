// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/peterbourgon/ff/v3"
	"github.com/tklauser/numcpus"

	"github.com/perfsampler/agent/counters/eventsfs"
	"github.com/perfsampler/agent/counters/videoaccel"
	"github.com/perfsampler/agent/internal/controller"
)

const (
	// Default values for CLI flags
	defaultArgCacheBuckets      = 1024
	defaultArgCacheWays         = 2
	defaultArgQueueSize         = 256
	defaultArgBufferSize        = 1 << 20
	defaultArgSampleRate        = 1000
	defaultArgLiveRate          = 100 * time.Millisecond
	defaultArgPollInterval      = 100 * time.Millisecond
	defaultArgPendingTTL        = 5 * time.Second
	defaultArgExternalTimeout   = 1 * time.Second
	defaultClockSyncInterval    = 3 * time.Minute
	defaultArgProcRoot          = "/proc"
	defaultArgOutputPath        = "-"
	defaultArgCaptureDir        = "."
	defaultArgExternalSocket    = ""
	defaultArgSessionPath       = ""
	defaultArgEventsDescription = ""
)

// Help strings for command line arguments
var (
	sessionHelp        = "Session configuration listing the counters to collect."
	eventsHelp         = "Events description declaring the video engine counters."
	eventsRootHelp     = "Root of the kernel module counter tree."
	videoDeviceHelp    = "Device node of the video engine."
	procRootHelp       = "Mount point of procfs."
	externalSocketHelp = "Unix socket path accepting an external producer. " +
		"Empty disables external producers."
	outputHelp       = "Destination of the capture stream, '-' for stdout."
	captureDirHelp   = "Directory receiving the captured counters document on exit."
	compressHelp     = "Compress the capture stream with zstd."
	unitsHelp        = "Number of collection units. Defaults to the number of present CPUs."
	cacheBucketsHelp = fmt.Sprintf("Number of buckets of each symbol cache, a power of two. "+
		"Default is %d.", defaultArgCacheBuckets)
	cacheWaysHelp = fmt.Sprintf("Number of entries per symbol cache bucket. Default is %d.",
		defaultArgCacheWays)
	queueSizeHelp = fmt.Sprintf("Capacity of each deferred resolution queue, a power of two. "+
		"Default is %d.", defaultArgQueueSize)
	bufferSizeHelp        = "Capacity in bytes of each unit output buffer."
	sampleRateHelp        = "Sampling frequency in Hz announced to producers and in the capture."
	liveRateHelp          = "Interval at which buffered data is sent to the output."
	pollIntervalHelp      = "Interval at which polled counters are read."
	pendingTTLHelp        = "Maximum age of deferred name resolutions. Zero disables expiry."
	externalTimeoutHelp   = "Maximum time an external record waits for buffer space."
	clockSyncIntervalHelp = "Set the sync interval with the realtime clock. " +
		"If zero, monotonic-realtime clock sync will be performed once, " +
		"on agent startup, but not periodically."
	configHelp       = "Plain configuration file providing flag values."
	listCountersHelp = "Print the counters available on this system and exit."
	pprofHelp        = "Listening address (e.g. localhost:6060) to serve pprof information."
	verboseModeHelp  = "Enable verbose logging and debugging capabilities."
	versionHelp      = "Show version."
)

func defaultUnits() int {
	n, err := numcpus.GetPresent()
	if err != nil || n <= 0 {
		return 1
	}
	return n
}

func parseArgs(args []string) (*controller.Config, error) {
	var cfg controller.Config

	fs := flag.NewFlagSet("perf-sampler", flag.ExitOnError)

	// Please keep the parameters ordered alphabetically in the source-code.
	fs.IntVar(&cfg.BufferSize, "buffer-size", defaultArgBufferSize, bufferSizeHelp)

	fs.IntVar(&cfg.CacheBuckets, "cache-buckets", defaultArgCacheBuckets, cacheBucketsHelp)
	fs.IntVar(&cfg.CacheWays, "cache-ways", defaultArgCacheWays, cacheWaysHelp)
	fs.StringVar(&cfg.CaptureDir, "capture-dir", defaultArgCaptureDir, captureDirHelp)
	fs.DurationVar(&cfg.ClockSyncInterval, "clock-sync-interval", defaultClockSyncInterval,
		clockSyncIntervalHelp)
	fs.BoolVar(&cfg.Compress, "compress", false, compressHelp)
	fs.String("config", "", configHelp)

	fs.StringVar(&cfg.EventsPath, "events", defaultArgEventsDescription, eventsHelp)
	fs.StringVar(&cfg.EventsRoot, "events-root", eventsfs.DefaultRoot, eventsRootHelp)
	fs.StringVar(&cfg.ExternalSocket, "external-socket", defaultArgExternalSocket,
		externalSocketHelp)
	fs.DurationVar(&cfg.ExternalTimeout, "external-timeout", defaultArgExternalTimeout,
		externalTimeoutHelp)

	fs.BoolVar(&cfg.ListCounters, "list-counters", false, listCountersHelp)
	fs.DurationVar(&cfg.LiveRate, "live-rate", defaultArgLiveRate, liveRateHelp)

	fs.StringVar(&cfg.OutputPath, "output", defaultArgOutputPath, outputHelp)

	fs.DurationVar(&cfg.PendingTTL, "pending-ttl", defaultArgPendingTTL, pendingTTLHelp)
	fs.DurationVar(&cfg.PollInterval, "poll-interval", defaultArgPollInterval, pollIntervalHelp)
	fs.StringVar(&cfg.PprofAddr, "pprof", "", pprofHelp)
	fs.StringVar(&cfg.ProcRoot, "proc-root", defaultArgProcRoot, procRootHelp)

	fs.IntVar(&cfg.QueueSize, "queue-size", defaultArgQueueSize, queueSizeHelp)

	fs.IntVar(&cfg.SampleRate, "sample-rate", defaultArgSampleRate, sampleRateHelp)
	fs.StringVar(&cfg.SessionPath, "session", defaultArgSessionPath, sessionHelp)

	fs.IntVar(&cfg.Units, "units", defaultUnits(), unitsHelp)

	fs.BoolVar(&cfg.VerboseMode, "v", false, "Shorthand for -verbose.")
	fs.BoolVar(&cfg.VerboseMode, "verbose", false, verboseModeHelp)
	fs.BoolVar(&cfg.Version, "version", false, versionHelp)
	fs.StringVar(&cfg.VideoDevice, "video-device", videoaccel.DefaultDevice, videoDeviceHelp)

	fs.Usage = func() {
		fs.PrintDefaults()
	}

	cfg.Fs = fs

	return &cfg, ff.Parse(fs, args,
		ff.WithEnvVarPrefix("PERF_SAMPLER"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		// This will ignore configuration file (only) options that the current agent
		// does not recognize.
		ff.WithIgnoreUndefined(true),
		ff.WithAllowMissingConfigFile(true),
	)
}
