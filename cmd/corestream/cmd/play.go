package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/streamcore/corestream/internal/config"
	"github.com/streamcore/corestream/internal/debughttp"
	"github.com/streamcore/corestream/internal/scheduler"
	"github.com/streamcore/corestream/internal/session"
	"github.com/streamcore/corestream/internal/transport"
	"github.com/streamcore/corestream/internal/urlutil"
	"github.com/streamcore/corestream/internal/version"
	"github.com/streamcore/corestream/pkg/playlist"
	"github.com/streamcore/corestream/pkg/playlist/manifestio"
)

var playFlavor string

var playCmd = &cobra.Command{
	Use:   "play <manifest-uri>",
	Short: "Play a manifest end to end",
	Long: `Fetch an HLS, DASH, or Smooth Streaming manifest, select a track for
every adaptation set, and drive the scheduler loop until every track has
reached end-of-stream or a fatal error. Bitrate switches, end-of-stream
and fatal errors are logged; each emitted buffer is logged at debug level
with its size and discontinuity flag.

This is a reference host for the core engine, not a media player: it
discards emitted buffers after logging them.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlay,
}

func init() {
	playCmd.Flags().StringVar(&playFlavor, "flavor", "hls", "manifest flavor: hls, dash, mss")
	playCmd.Flags().Int64("connection-speed", 0, "seed bandwidth estimate in bits/s (0 = auto)")
	playCmd.Flags().Int("max-width", 0, "cap representation width (0 = unbounded)")
	playCmd.Flags().Int("max-height", 0, "cap representation height (0 = unbounded)")
	playCmd.Flags().Bool("trickmode", false, "enable keyframe-only trick mode on iframe-only representations")
	mustBindPFlag("scheduler.connection_speed", playCmd.Flags().Lookup("connection-speed"))
	mustBindPFlag("scheduler.max_video_width", playCmd.Flags().Lookup("max-width"))
	mustBindPFlag("scheduler.max_video_height", playCmd.Flags().Lookup("max-height"))

	rootCmd.AddCommand(playCmd)
}

func runPlay(cmd *cobra.Command, args []string) error {
	manifestURI := args[0]
	logger := slog.Default()

	var cfg config.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("unmarshaling config: %w", err)
	}

	flavor, err := parseFlavorFlag(playFlavor)
	if err != nil {
		return err
	}
	if !urlutil.IsRemote(manifestURI) {
		return fmt.Errorf("manifest URI %q is not an http(s) URL (use corestream-probe for local files)", manifestURI)
	}

	downloader := transport.NewHTTPDownloader(transport.New(transport.Config{
		Timeout:       cfg.Transport.HTTPTimeout,
		RetryAttempts: cfg.Transport.RetryAttempts,
		RetryDelay:    cfg.Transport.RetryDelay,
		RetryMaxDelay: cfg.Transport.RetryDelay * 4,
		UserAgent:     "corestream/" + version.Short(),
		Logger:        logger,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	body, finalURI, err := downloader.Get(ctx, manifestURI)
	if err != nil {
		return fmt.Errorf("fetching manifest: %w", err)
	}
	defer body.Close()

	raw, err := manifestio.ReadAll(body)
	if err != nil {
		return fmt.Errorf("reading manifest: %w", err)
	}

	trickmode, _ := cmd.Flags().GetBool("trickmode")
	caps := session.Caps{
		ConnectionSpeed:        cfg.Scheduler.ConnectionSpeed,
		StartBitrate:           cfg.Scheduler.StartBitrate,
		MaxVideoWidth:          cfg.Scheduler.MaxVideoWidth,
		MaxVideoHeight:         cfg.Scheduler.MaxVideoHeight,
		MaxVideoFramerate:      cfg.Scheduler.MaxVideoFramerate,
		FragmentsCache:         cfg.Scheduler.FragmentsCache,
		BitrateSwitchTolerance: cfg.Scheduler.BitrateSwitchTolerance,
		TrickmodeKeyUnits:      trickmode,
	}

	sess, err := session.New(raw, flavor, finalURI, downloader, nil, caps, logger)
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}

	pl := sess.Playlist()
	pl.Mu.RLock()
	var sets []*playlist.AdaptationSet
	for _, period := range pl.Periods {
		sets = append(sets, period.AdaptationSets...)
	}
	pl.Mu.RUnlock()

	for _, set := range sets {
		if err := sess.SelectTrack(ctx, set); err != nil {
			return fmt.Errorf("selecting track %s: %w", set.ID, err)
		}
	}
	logger.Info("play: selected tracks", slog.Int("count", len(sets)))

	var debugSrv *debughttp.Server
	if cfg.Server.Enabled {
		debugSrv = debughttp.NewServer(cfg.Server, logger)
		debugSrv.Register(sess)
		go func() {
			if err := debugSrv.ListenAndServe(ctx); err != nil {
				logger.Error("debughttp: serving failed", slog.String("error", err.Error()))
			}
		}()
	}

	sess.Start(ctx)
	go func() {
		<-ctx.Done()
		sess.Stop()
	}()

	// Drain until every track has reached a terminal event, then stop the
	// session; Stop closes the event channel once the pumps drain.
	terminal := make(map[string]bool)
	stopped := false
	for ev := range sess.Events() {
		logPlaybackEvent(logger, ev)
		if ev.Kind == scheduler.EventEndOfStream || ev.Kind == scheduler.EventError {
			terminal[ev.TrackID] = true
			if len(terminal) == len(sets) && !stopped {
				stopped = true
				stop()
			}
		}
	}

	if debugSrv != nil {
		debugSrv.Unregister(sess)
	}
	return nil
}

func logPlaybackEvent(logger *slog.Logger, ev session.Event) {
	switch ev.Kind {
	case scheduler.EventBuffer:
		logger.Debug("buffer",
			slog.String("track", ev.TrackID),
			slog.Int("bytes", len(ev.Buffer.Data)),
			slog.Bool("discontinuous", ev.Buffer.Discontinuous),
		)
	case scheduler.EventBitrateSwitch:
		logger.Info("bitrate switch",
			slog.String("track", ev.TrackID),
			slog.String("uri", ev.Switch.URI),
			slog.Int64("bitrate", ev.Switch.Bitrate),
		)
	case scheduler.EventEndOfStream:
		logger.Info("end of stream", slog.String("track", ev.TrackID))
	case scheduler.EventError:
		logger.Error("fatal error", slog.String("track", ev.TrackID), slog.String("error", fmt.Sprint(ev.Err)))
	}
}

func parseFlavorFlag(v string) (session.Flavor, error) {
	switch v {
	case "hls":
		return session.FlavorHLS, nil
	case "dash":
		return session.FlavorDASH, nil
	case "mss":
		return session.FlavorMSS, nil
	default:
		return 0, fmt.Errorf("unknown manifest flavor %q (want hls, dash, or mss)", v)
	}
}
