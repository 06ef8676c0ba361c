package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junsooki/framerelay/internal/capture"
)

func TestRelay_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	v, err := New("")
	require.NoError(t, err)

	cfg, err := Relay(v)
	require.NoError(t, err)
	assert.Equal(t, ":8090", cfg.Listen)
	assert.Equal(t, "synthetic", cfg.Camera.Backend)
	assert.Equal(t, 30, cfg.Camera.FPS)
	assert.Equal(t, capture.PresetMedium, cfg.Camera.Preset)
	assert.Equal(t, "granted", cfg.Permission)
	assert.Zero(t, cfg.MinFrameInterval)
	assert.False(t, cfg.Push.Enabled)
	assert.Nil(t, cfg.ICEServers)
	assert.True(t, strings.HasPrefix(cfg.InstanceID, "relay-"))
}

func TestRelay_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "framerelay.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
listen: 127.0.0.1:9000
camera:
  backend: OpenCV
  fps: 15
  preset: high
relay:
  min_frame_interval: 100ms
webrtc:
  ice_servers:
    - stun:stun.example.org:3478
`), 0o644))

	t.Setenv("FRAMERELAY_CAMERA_FPS", "24")
	t.Setenv("FRAMERELAY_PERMISSION_MODE", "denied")

	v, err := New(file)
	require.NoError(t, err)
	cfg, err := Relay(v)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, "opencv", cfg.Camera.Backend)
	assert.Equal(t, 24, cfg.Camera.FPS)
	assert.Equal(t, capture.PresetHigh, cfg.Camera.Preset)
	assert.Equal(t, "denied", cfg.Permission)
	assert.Equal(t, 100*time.Millisecond, cfg.MinFrameInterval)
	assert.Equal(t, []string{"stun:stun.example.org:3478"}, cfg.ICEServers)
}

func TestRelay_Invalid(t *testing.T) {
	t.Chdir(t.TempDir())
	v, err := New("")
	require.NoError(t, err)
	v.Set("camera.backend", "v4l2")
	v.Set("camera.fps", 0)

	_, err = Relay(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "camera.backend")
	assert.Contains(t, err.Error(), "camera.fps")

	v.Set("camera.preset", "ultra")
	_, err = Relay(v)
	assert.Error(t, err)
}

func TestNew_MissingExplicitFile(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestViewer(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("FRAMERELAY_WEBRTC_ICE_SERVERS", "stun:a:1, stun:b:2")
	v, err := New("")
	require.NoError(t, err)

	cfg, err := Viewer(v)
	require.NoError(t, err)
	assert.Equal(t, "websocket", cfg.Transport)
	assert.Equal(t, "ws://localhost:8090/channel", cfg.ChannelURL)
	assert.Equal(t, []string{"stun:a:1", "stun:b:2"}, cfg.ICEServers)
	assert.True(t, strings.HasPrefix(cfg.ViewerID, "viewer-"))
	assert.Equal(t, 85, cfg.SnapshotQuality)

	v.Set("viewer.snapshot_quality", 101)
	_, err = Viewer(v)
	assert.Error(t, err)
	v.Set("viewer.snapshot_quality", 60)

	v.Set("viewer.transport", "carrier-pigeon")
	_, err = Viewer(v)
	assert.Error(t, err)

	v.Set("viewer.transport", "webrtc")
	v.Set("viewer.headless", true)
	_, err = Viewer(v)
	assert.Error(t, err, "headless needs a snapshot dir")
}
