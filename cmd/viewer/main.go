package main

import (
	"context"
	"errors"
	"image"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/junsooki/framerelay/internal/channel"
	"github.com/junsooki/framerelay/internal/config"
	"github.com/junsooki/framerelay/internal/decoder"
	"github.com/junsooki/framerelay/internal/display"
	"github.com/junsooki/framerelay/internal/encoder"
	"github.com/junsooki/framerelay/internal/frame"
	"github.com/junsooki/framerelay/internal/frontcamera"
	"github.com/junsooki/framerelay/internal/log"
	"github.com/junsooki/framerelay/internal/peer"
)

const callTimeout = 30 * time.Second

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:           "framerelay-viewer",
		Short:         "Show the frames streamed by a framerelay relay",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := config.New(configFile)
			if err != nil {
				return err
			}
			if err := bindFlags(v, cmd); err != nil {
				return err
			}
			cfg, err := config.Viewer(v)
			if err != nil {
				return err
			}
			log.Init(cfg.Log.Level, cfg.Log.Format)
			if err := run(cmd.Context(), cfg); err != nil {
				log.Errorf("%v", err)
				return err
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configFile, "config", "c", "", "Config file (default ./framerelay.yaml)")
	f.String("url", "", "Relay channel WebSocket URL")
	f.String("transport", "", "Frame transport: websocket or webrtc")
	f.String("snapshot-dir", "", "Directory for JPEG snapshots")
	f.Int("snapshot-quality", 0, "JPEG quality of snapshots (1-100)")
	f.Bool("headless", false, "Write snapshots instead of opening a window")
	f.String("log-level", "", "Log level")
	return cmd
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	keys := map[string]string{
		"url":              "channel_url",
		"transport":        "viewer.transport",
		"snapshot-dir":     "viewer.snapshot_dir",
		"snapshot-quality": "viewer.snapshot_quality",
		"headless":         "viewer.headless",
		"log-level":        "log.level",
	}
	for name, key := range keys {
		fl := cmd.Flags().Lookup(name)
		if fl == nil || !fl.Changed {
			continue
		}
		if err := v.BindPFlag(key, fl); err != nil {
			return err
		}
	}
	return nil
}

func run(ctx context.Context, cfg *config.ViewerConfig) error {
	log.Infof("framerelay viewer starting")
	log.Infof("  Viewer ID:  %s", cfg.ViewerID)
	log.Infof("  Relay:      %s", cfg.ChannelURL)
	log.Infof("  Transport:  %s", cfg.Transport)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ch := channel.NewClient(cfg.ChannelURL, channel.Handler{
		OnError: func(msg string) {
			log.Warnf("channel error: %s", msg)
		},
		OnDisconnect: func(err error) {
			log.Warnf("relay disconnected: %v", err)
			stop()
		},
	})
	if err := ch.Connect(ctx); err != nil {
		return err
	}
	defer ch.Close()
	fc := frontcamera.NewClient(ch)

	v := newViewer(fc, cfg)
	defer v.close()
	if cfg.SnapshotDir != "" {
		// Headless runs save one frame per second; windowed runs save on demand.
		interval := time.Second
		if !cfg.Headless {
			interval = 0
		}
		enc := encoder.NewJPEGEncoder(cfg.SnapshotQuality)
		snaps, err := encoder.NewSnapshotWriter(cfg.SnapshotDir, interval, enc)
		if err != nil {
			return err
		}
		log.Infof("  Snapshots:  %s (quality %d)", cfg.SnapshotDir, enc.Quality())
		v.snapshots = snaps
	}

	var disp *display.EbitenDisplay
	if !cfg.Headless {
		disp = display.NewEbitenDisplay("framerelay viewer", display.Controls{
			OnToggle:   func() { v.toggle(ctx) },
			OnSnapshot: v.snapshot,
		})
		v.display = disp
	}

	defer func() {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := fc.StopCapture(c); err != nil {
			log.Warnf("stop capture: %v", err)
		}
		_ = fc.Cancel(c)
	}()

	if err := v.start(ctx); err != nil {
		return err
	}

	if disp == nil {
		<-ctx.Done()
		log.Infof("Shutting down... %d snapshots written", v.snapshotCount())
		return nil
	}
	go func() {
		<-ctx.Done()
		disp.Close()
	}()
	return disp.Run()
}

type viewer struct {
	fc        *frontcamera.Client
	cfg       *config.ViewerConfig
	display   display.Display
	snapshots *encoder.SnapshotWriter

	running atomic.Bool

	ctrlMu sync.Mutex
	ctrl   *peer.Controller

	mu   sync.Mutex
	dec  *decoder.BGRADecoder
	last *image.RGBA
	seq  uint64
}

func newViewer(fc *frontcamera.Client, cfg *config.ViewerConfig) *viewer {
	return &viewer{fc: fc, cfg: cfg, dec: decoder.NewBGRADecoder()}
}

// subscribe makes this viewer the relay's listener over the configured
// transport. The relay forgets its listener on every stop, so this runs
// before each start.
func (v *viewer) subscribe(ctx context.Context) error {
	c, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	if v.cfg.Transport != "webrtc" {
		return v.fc.Listen(c, v.onFrame)
	}

	ctrl, err := peer.NewController(v.cfg.ICEServers)
	if err != nil {
		return err
	}
	ctrl.Transport().OnFrame(v.onFrame)

	offer, err := ctrl.Offer(c)
	if err == nil {
		var answer webrtc.SessionDescription
		if answer, err = v.fc.Negotiate(c, offer); err == nil {
			err = ctrl.HandleAnswer(answer)
		}
	}
	if err != nil {
		_ = ctrl.Close()
		return err
	}

	v.ctrlMu.Lock()
	prev := v.ctrl
	v.ctrl = ctrl
	v.ctrlMu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
	return nil
}

func (v *viewer) close() {
	v.ctrlMu.Lock()
	ctrl := v.ctrl
	v.ctrl = nil
	v.ctrlMu.Unlock()
	if ctrl != nil {
		_ = ctrl.Close()
	}
}

func (v *viewer) start(ctx context.Context) error {
	if err := v.subscribe(ctx); err != nil {
		return err
	}
	c, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	if err := v.fc.StartCapture(c); err != nil {
		var me *channel.MethodError
		if errors.As(err, &me) {
			log.Errorf("start capture failed: %s (%s)", me.Message, me.Code)
		}
		return err
	}
	v.running.Store(true)
	log.Infof("capture started")
	return nil
}

func (v *viewer) toggle(ctx context.Context) {
	if v.running.Load() {
		c, cancel := context.WithTimeout(ctx, callTimeout)
		defer cancel()
		if err := v.fc.StopCapture(c); err != nil {
			log.Warnf("stop capture: %v", err)
			return
		}
		v.running.Store(false)
		log.Infof("capture stopped")
		return
	}
	_ = v.start(ctx)
}

func (v *viewer) onFrame(f *frame.Frame) {
	v.mu.Lock()
	defer v.mu.Unlock()
	img, err := v.dec.Decode(f)
	if err != nil {
		log.Debugf("decode frame %d: %v", f.Sequence, err)
		return
	}
	v.last, v.seq = img, f.Sequence
	if v.display != nil {
		v.display.SetFrame(img, f.Sequence)
		return
	}
	if v.snapshots != nil {
		if path, err := v.snapshots.Write(img, f.Sequence); err != nil {
			log.Warnf("snapshot: %v", err)
		} else if path != "" {
			log.Debugf("wrote %s", path)
		}
	}
}

func (v *viewer) snapshot() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.snapshots == nil || v.last == nil {
		return
	}
	path, err := v.snapshots.Write(v.last, v.seq)
	if err != nil {
		log.Warnf("snapshot: %v", err)
		return
	}
	log.Infof("saved %s", path)
}

func (v *viewer) snapshotCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.snapshots == nil {
		return 0
	}
	return v.snapshots.Count()
}
