// SPDX-License-Identifier: MIT
package cmd

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"radio/internal/config"
	applog "radio/internal/log"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	applog.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func TestParseRunDefaults(t *testing.T) {
	opts, err := parse(nil, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, CommandRun, opts.Command)
	assert.Equal(t, uint32(config.DefaultFrequency), opts.Config.Tuner.Frequency)
	assert.False(t, opts.Config.Recording.Enabled)
	assert.Empty(t, opts.OutputFile)
}

func TestParseList(t *testing.T) {
	opts, err := parse([]string{"list"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, CommandList, opts.Command)
}

func TestParseHelpRunsNothing(t *testing.T) {
	var out bytes.Buffer
	opts, err := parse([]string{"--help"}, &out)
	require.NoError(t, err)
	assert.Empty(t, opts.Command)
	assert.Contains(t, out.String(), "--frequency")
}

func TestFlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "radio.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tuner:
  frequency: 145500000
  gain: 12.5
  ppm: 4
recording:
  output_dir: `+dir+`
`), 0644))

	opts, err := parse([]string{
		"--config", path,
		"-f", "446006250",
		"--agc",
		"--squelch", "0.05",
		"--record",
		"--udp", "127.0.0.1:7355",
		"--mqtt-broker", "tcp://localhost:1883",
	}, io.Discard)
	require.NoError(t, err)

	cfg := opts.Config
	assert.Equal(t, uint32(446006250), cfg.Tuner.Frequency, "flag wins over file")
	assert.Equal(t, 12.5, cfg.Tuner.Gain, "unset flag keeps file value")
	assert.Equal(t, 4.0, cfg.Tuner.PPM)
	assert.True(t, cfg.Tuner.AGC)
	assert.Equal(t, 0.05, cfg.Demod.Squelch)
	assert.True(t, cfg.Transport.UDPEnabled)
	assert.Equal(t, "127.0.0.1:7355", cfg.Transport.UDPTargetAddress)
	assert.True(t, cfg.MQTT.Enabled)

	assert.True(t, cfg.Recording.Enabled)
	assert.Equal(t, dir, filepath.Dir(opts.OutputFile))
	assert.True(t, strings.HasPrefix(filepath.Base(opts.OutputFile), "recording-"))
	assert.True(t, strings.HasSuffix(opts.OutputFile, ".wav"))
}

func TestExplicitOutputPath(t *testing.T) {
	out := filepath.Join(t.TempDir(), "net.wav")
	opts, err := parse([]string{"-r", "-o", out}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, out, opts.OutputFile)
}

func TestInvalidFlagValues(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"frequency out of range", []string{"-f", "1000"}},
		{"squelch out of range", []string{"--squelch", "2"}},
		{"unknown flag", []string{"--bogus"}},
		{"stray argument", []string{"extra"}},
		{"missing config", []string{"-c", "/nonexistent/radio.yaml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(tt.args, io.Discard)
			assert.Error(t, err)
		})
	}
}
