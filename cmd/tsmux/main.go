// Command tsmux runs a standalone MPEG-TS/HLS muxer: it accepts either an
// RTMP publisher or files dropped into a watch directory, and writes a
// rotating window of .ts segments plus an m3u8 playlist to disk.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/aler9/tsmux/internal/apiserver"
	"github.com/aler9/tsmux/internal/conf"
	"github.com/aler9/tsmux/internal/externalcmd"
	"github.com/aler9/tsmux/internal/fsingest"
	"github.com/aler9/tsmux/internal/hls"
	"github.com/aler9/tsmux/internal/logger"
	"github.com/aler9/tsmux/internal/rtmpsource"
)

// Version is set at build time via -ldflags.
var Version = "v0.0.0"

var cli struct {
	Serve struct {
		ConfPath string `arg:"" optional:"" default:"tsmux.yml" help:"path to a YAML config file"`
	} `cmd:"" help:"run the muxer"`

	Version struct{} `cmd:"" help:"print version and exit"`
}

func main() {
	ctx := kong.Parse(&cli, kong.Name("tsmux"), kong.Description("MPEG-TS/HLS muxer"))

	switch {
	case ctx.Command() == "version":
		fmt.Println(Version)

	case strings.HasPrefix(ctx.Command(), "serve"):
		if err := serve(cli.Serve.ConfPath); err != nil {
			fmt.Fprintln(os.Stderr, "ERR:", err)
			os.Exit(1)
		}

	default:
		ctx.FatalIfErrorf(fmt.Errorf("unknown command %q", ctx.Command()))
	}
}

func serve(confPath string) error {
	cfg, _, err := conf.Load(confPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.EffectiveLogLevel(), cfg.LogDestinations, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Close()

	log.Log(logger.Info, "tsmux %s", Version)

	cmdPool := externalcmd.NewPool()
	defer cmdPool.Close()

	hooks := externalcmd.NewHookDelegate(cmdPool, log, cfg.RunOnSegment, cfg.RunOnSegmentRestart,
		cfg.RunOnRotate, cfg.SegmentDuration.AsDuration())

	delegates := []hls.Delegate{hooks}

	var api *apiserver.Server
	if cfg.APIAddress != "" {
		api = apiserver.New(cfg.APIAddress, cfg.BaseFolder, &logger.Prefixed{Tag: "api", Parent: log})
		if err := api.Start(); err != nil {
			return fmt.Errorf("start api server: %w", err)
		}
		defer api.Close()
		delegates = append(delegates, api)
	}

	muxer := hls.NewMuxer(hls.Config{
		SegmentDuration: cfg.SegmentDuration.AsDuration(),
		SegmentMaxCount: cfg.SegmentMaxCount,
		SegmentMaxSize:  uint64(cfg.SegmentMaxSize),
		ExpectedMedias:  cfg.ExpectedMedias,
		BaseFolder:      cfg.BaseFolder,
		PIDs:            cfg.PIDs,
	}, hls.FanoutDelegate{Delegates: delegates}, &logger.Prefixed{Tag: "muxer", Parent: log})

	muxer.Start()
	defer muxer.Stop()

	if cfg.RTMPAddress != "" {
		rtmpSrc := rtmpsource.New(cfg.RTMPAddress, muxer, &logger.Prefixed{Tag: "rtmp", Parent: log})
		if err := rtmpSrc.Start(); err != nil {
			return fmt.Errorf("start RTMP source: %w", err)
		}
		defer rtmpSrc.Close()
	}

	if cfg.FSIngestDirectory != "" {
		watcher := fsingest.New(cfg.FSIngestDirectory, 0, muxer, &logger.Prefixed{Tag: "fsingest", Parent: log})
		if err := watcher.Start(); err != nil {
			return fmt.Errorf("start fsingest watcher: %w", err)
		}
		defer watcher.Close()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Log(logger.Info, "shutting down")
	return nil
}
