package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/junsooki/framerelay/internal/capture"
)

// EnvPrefix prefixes every environment override, e.g.
// FRAMERELAY_CAMERA_FPS for camera.fps.
const EnvPrefix = "FRAMERELAY"

// Config holds the relay daemon's runtime configuration.
type Config struct {
	InstanceID string
	Listen     string
	Camera     CameraConfig
	Permission string
	// MinFrameInterval throttles delivery to listeners; 0 disables it.
	MinFrameInterval time.Duration
	Push             PushConfig
	ICEServers       []string
	Log              LogConfig
}

// CameraConfig selects and tunes the capture device.
type CameraConfig struct {
	Backend string
	Device  int
	FPS     int
	Preset  capture.Preset
}

// PushConfig configures push registration.
type PushConfig struct {
	Enabled         bool
	ProjectID       string
	CredentialsFile string
	DeviceToken     string
}

// LogConfig configures internal/log.
type LogConfig struct {
	Level  string
	Format string
}

// ViewerConfig holds configuration for the viewer binary.
type ViewerConfig struct {
	ViewerID    string
	ChannelURL  string
	Transport   string
	SnapshotDir string

	// SnapshotQuality is the JPEG quality of snapshots, 1-100.
	SnapshotQuality int

	Headless   bool
	ICEServers []string
	Log        LogConfig
}

// New returns a viper instance with defaults, the optional config file
// and environment overrides set up. file may be empty to search for
// framerelay.yaml in the working directory and /etc/framerelay.
func New(file string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("framerelay")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/framerelay")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("instance_id", "")
	v.SetDefault("listen", ":8090")
	v.SetDefault("channel_url", "ws://localhost:8090/channel")

	v.SetDefault("camera.backend", "synthetic")
	v.SetDefault("camera.device", 0)
	v.SetDefault("camera.fps", 30)
	v.SetDefault("camera.preset", "medium")

	v.SetDefault("permission.mode", "granted")
	v.SetDefault("relay.min_frame_interval", "0s")

	v.SetDefault("push.enabled", false)
	v.SetDefault("push.project_id", "")
	v.SetDefault("push.credentials_file", "")
	v.SetDefault("push.device_token", "")

	v.SetDefault("webrtc.ice_servers", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("viewer.id", "")
	v.SetDefault("viewer.transport", "websocket")
	v.SetDefault("viewer.snapshot_dir", "")
	v.SetDefault("viewer.snapshot_quality", 85)
	v.SetDefault("viewer.headless", false)
}

// Relay decodes and validates the relay daemon configuration.
func Relay(v *viper.Viper) (*Config, error) {
	preset, err := capture.ParsePreset(v.GetString("camera.preset"))
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		InstanceID: v.GetString("instance_id"),
		Listen:     v.GetString("listen"),
		Camera: CameraConfig{
			Backend: strings.ToLower(v.GetString("camera.backend")),
			Device:  v.GetInt("camera.device"),
			FPS:     v.GetInt("camera.fps"),
			Preset:  preset,
		},
		Permission:       strings.ToLower(v.GetString("permission.mode")),
		MinFrameInterval: v.GetDuration("relay.min_frame_interval"),
		Push: PushConfig{
			Enabled:         v.GetBool("push.enabled"),
			ProjectID:       v.GetString("push.project_id"),
			CredentialsFile: v.GetString("push.credentials_file"),
			DeviceToken:     v.GetString("push.device_token"),
		},
		ICEServers: iceServers(v),
		Log:        logConfig(v),
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = fmt.Sprintf("relay-%s", uuid.NewString()[:8])
	}

	var errs []string
	switch cfg.Camera.Backend {
	case "synthetic", "opencv", "screen":
	default:
		errs = append(errs, fmt.Sprintf("camera.backend %q not one of synthetic, opencv, screen", cfg.Camera.Backend))
	}
	if cfg.Camera.FPS < 1 || cfg.Camera.FPS > 120 {
		errs = append(errs, fmt.Sprintf("camera.fps %d out of range 1-120", cfg.Camera.FPS))
	}
	switch cfg.Permission {
	case "granted", "denied", "prompt":
	default:
		errs = append(errs, fmt.Sprintf("permission.mode %q not one of granted, denied, prompt", cfg.Permission))
	}
	if cfg.MinFrameInterval < 0 {
		errs = append(errs, "relay.min_frame_interval must not be negative")
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// Viewer decodes and validates the viewer configuration.
func Viewer(v *viper.Viper) (*ViewerConfig, error) {
	cfg := &ViewerConfig{
		ViewerID:        v.GetString("viewer.id"),
		ChannelURL:      v.GetString("channel_url"),
		Transport:       strings.ToLower(v.GetString("viewer.transport")),
		SnapshotDir:     v.GetString("viewer.snapshot_dir"),
		SnapshotQuality: v.GetInt("viewer.snapshot_quality"),
		Headless:        v.GetBool("viewer.headless"),
		ICEServers:      iceServers(v),
		Log:             logConfig(v),
	}
	if cfg.ViewerID == "" {
		cfg.ViewerID = fmt.Sprintf("viewer-%s", uuid.NewString()[:8])
	}
	if cfg.ChannelURL == "" {
		return nil, errors.New("channel_url is required")
	}
	switch cfg.Transport {
	case "websocket", "webrtc":
	default:
		return nil, fmt.Errorf("viewer.transport %q not one of websocket, webrtc", cfg.Transport)
	}
	if cfg.SnapshotQuality < 1 || cfg.SnapshotQuality > 100 {
		return nil, fmt.Errorf("viewer.snapshot_quality %d out of range 1-100", cfg.SnapshotQuality)
	}
	if cfg.Headless && cfg.SnapshotDir == "" {
		return nil, errors.New("viewer.snapshot_dir is required when headless")
	}
	return cfg, nil
}

func logConfig(v *viper.Viper) LogConfig {
	return LogConfig{Level: v.GetString("log.level"), Format: v.GetString("log.format")}
}

// iceServers accepts a YAML list or a comma separated string (from the
// environment).
func iceServers(v *viper.Viper) []string {
	var out []string
	for _, s := range v.GetStringSlice("webrtc.ice_servers") {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	if out == nil {
		// nil selects the built-in STUN servers
		return nil
	}
	return out
}
