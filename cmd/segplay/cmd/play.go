package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"segment-transcoder/internal/capability"
	"segment-transcoder/internal/client"
	"segment-transcoder/internal/media"
	"segment-transcoder/internal/playback"
	"segment-transcoder/internal/sequencer"
)

type playOptions struct {
	outDir      string
	speed       float64
	seek        time.Duration
	retries     int
	retryDelay  time.Duration
	userAgent   string
	screen      string
	viewport    string
	connection  string
	downlink    float64
	cores       int
	modernCodec bool
	embedded    bool
}

func newPlayCmd() *cobra.Command {
	var o playOptions
	cmd := &cobra.Command{
		Use:   "play VIDEO_ID",
		Short: "Play a video and write its segments to a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlay(cmd, media.VideoID(args[0]), o)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.outDir, "out", "o", "segments", "directory for loaded segments")
	f.Float64Var(&o.speed, "speed", 1, "playback speed multiplier")
	f.DurationVar(&o.seek, "seek", 0, "start position")
	f.IntVar(&o.retries, "retries", 3, "automatic retries after a stall")
	f.DurationVar(&o.retryDelay, "retry-delay", 2*time.Second, "wait before retrying a stalled window")
	f.StringVar(&o.userAgent, "user-agent", "segplay/1.0 (X11; Linux x86_64)", "user agent used to derive the device class")
	f.StringVar(&o.screen, "screen", "", "screen resolution, e.g. 1920x1080")
	f.StringVar(&o.viewport, "viewport", "", "viewport resolution")
	f.StringVar(&o.connection, "connection", "", "effective connection type (4g, 3g, 2g, slow-2g)")
	f.Float64Var(&o.downlink, "downlink", 0, "downlink bandwidth in Mbps")
	f.IntVar(&o.cores, "cores", 0, "logical cores (0 probes this host)")
	f.BoolVar(&o.modernCodec, "hevc", false, "declare HEVC decode support")
	f.BoolVar(&o.embedded, "embedded", false, "report an embedded player")
	return cmd
}

func runPlay(cmd *cobra.Command, id media.VideoID, o playOptions) error {
	log := newLogger()
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	builder := capability.NewBuilder(log)
	embedded := o.embedded
	env := capability.Environment{
		UserAgent:     o.userAgent,
		Screen:        o.screen,
		Viewport:      o.viewport,
		EffectiveType: o.connection,
		DownlinkMbps:  o.downlink,
		Embedded:      &embedded,
		ModernCodec:   o.modernCodec,
		LogicalCores:  o.cores,
	}
	log.Info("capability profile", "profile", builder.Build(ctx, env).String())

	surface, err := newFileSurface(ctx, o.outDir, o.speed, log)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	statuses := make(chan playback.Status, 1)
	ctrl := playback.NewController(playback.Config{
		VideoID:  id,
		Profile:  func() media.CapabilityProfile { return builder.Build(ctx, env) },
		OnStatus: func(s playback.Status) { publishLatest(statuses, s) },
	}, newClient(log, client.WithRetry(client.DefaultRetryConfig())), surface, sequencer.NewQueue(nil), log)
	surface.reporter = ctrl

	runErr := make(chan error, 1)
	go func() { runErr <- ctrl.Run(runCtx) }()

	ctrl.Mount()
	if o.seek > 0 {
		ctrl.Seek(o.seek)
	}

	err = watch(ctx, ctrl, statuses, o)
	cancel()
	<-runErr
	surface.Wait()

	if err != nil {
		return err
	}
	st := ctrl.Status()
	fmt.Fprintf(cmd.OutOrStdout(), "played %s: %d segments, position %s\n", id, st.Loaded, st.Position)
	return nil
}

// publishLatest hands s to the watcher without blocking the controller loop.
// An unread older snapshot is replaced; ch must have exactly one sender.
func publishLatest(ch chan playback.Status, s playback.Status) {
	for {
		select {
		case ch <- s:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// watch follows state changes until playback ends, fails or ctx is done.
func watch(ctx context.Context, ctrl *playback.Controller, statuses <-chan playback.Status, o playOptions) error {
	retries := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s := <-statuses:
			switch s.State {
			case playback.StateEnded:
				return nil
			case playback.StateFailed:
				return fmt.Errorf("playback failed: %w", s.LastError)
			case playback.StateStalled:
				if retries >= o.retries {
					return fmt.Errorf("playback stalled: %w", s.LastError)
				}
				retries++
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(o.retryDelay):
				}
				ctrl.Retry()
			case playback.StatePlaying:
				retries = 0
			}
		}
	}
}
