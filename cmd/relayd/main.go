package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/junsooki/framerelay/internal/channel"
	"github.com/junsooki/framerelay/internal/config"
	"github.com/junsooki/framerelay/internal/frontcamera"
	"github.com/junsooki/framerelay/internal/log"
	"github.com/junsooki/framerelay/internal/permissions"
	"github.com/junsooki/framerelay/internal/push"
	"github.com/junsooki/framerelay/internal/relay"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:           "framerelay-relayd",
		Short:         "Relay front camera frames to a listening client",
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
			cfg, err := config.Relay(v)
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
	f.String("listen", "", "HTTP listen address")
	f.String("camera", "", "Camera backend: synthetic, opencv or screen")
	f.Int("device", 0, "Camera device index")
	f.Int("fps", 0, "Capture frames per second")
	f.String("preset", "", "Capture preset: low, medium or high")
	f.String("permission", "", "Camera permission: granted, denied or prompt")
	f.Duration("min-frame-interval", 0, "Shortest gap between delivered frames")
	f.Bool("push", false, "Enable push auto-init")
	f.String("log-level", "", "Log level")
	return cmd
}

// bindFlags lets explicitly set flags override file and environment.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	keys := map[string]string{
		"listen":             "listen",
		"camera":             "camera.backend",
		"device":             "camera.device",
		"fps":                "camera.fps",
		"preset":             "camera.preset",
		"permission":         "permission.mode",
		"min-frame-interval": "relay.min_frame_interval",
		"push":               "push.enabled",
		"log-level":          "log.level",
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

func run(ctx context.Context, cfg *config.Config) error {
	log.Infof("framerelay relay starting")
	log.Infof("  Instance:   %s", cfg.InstanceID)
	log.Infof("  Listen:     %s", cfg.Listen)
	log.Infof("  Camera:     %s (device %d, %d fps, %s)", cfg.Camera.Backend, cfg.Camera.Device, cfg.Camera.FPS, cfg.Camera.Preset)
	log.Infof("  Permission: %s", cfg.Permission)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initPush(ctx, push.Default(), cfg.Push)

	devices, err := openDevices(cfg.Camera)
	if err != nil {
		return err
	}
	auth, err := permissions.FromMode(cfg.Permission)
	if err != nil {
		return err
	}

	r, err := relay.New(relay.Options{
		Devices:          devices,
		Authorizer:       auth,
		Preset:           cfg.Camera.Preset,
		MinFrameInterval: cfg.MinFrameInterval,
	})
	if err != nil {
		return err
	}
	defer r.Close()

	srv := channel.NewServer()
	bridge := frontcamera.NewBridge(r, cfg.ICEServers)
	bridge.Register(srv)
	defer bridge.Close()

	mux := http.NewServeMux()
	mux.Handle("/channel", srv)
	mux.HandleFunc("/healthz", healthHandler(cfg.InstanceID, r))

	hs := &http.Server{Addr: cfg.Listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- hs.ListenAndServe()
	}()
	log.Infof("Relay ready on %s", cfg.Listen)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	log.Infof("Shutting down...")
	srv.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return hs.Shutdown(shutdownCtx)
}

// initPush turns on push auto-init. Registration goes to FCM when push is
// configured and nowhere otherwise; a broken FCM setup is logged, never
// fatal.
func initPush(ctx context.Context, m *push.Messaging, cfg config.PushConfig) push.Registrar {
	var reg push.Registrar = push.NopRegistrar{}
	if cfg.Enabled {
		fcm, err := push.NewFCMRegistrar(ctx, cfg.ProjectID, cfg.CredentialsFile)
		if err != nil {
			log.For("push").WithError(err).Warn("push backend unavailable; registration disabled")
		} else {
			reg = fcm
		}
	}
	m.Configure(reg, cfg.DeviceToken)
	m.SetAutoInitEnabled(true)
	return reg
}

type health struct {
	Instance string      `json:"instance"`
	State    string      `json:"state"`
	Stats    relay.Stats `json:"stats"`
	PushInit bool        `json:"pushAutoInit"`
}

func healthHandler(instance string, r *relay.Relay) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(health{
			Instance: instance,
			State:    r.State().String(),
			Stats:    r.Stats(),
			PushInit: push.Default().IsAutoInitEnabled(),
		})
	}
}
