package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseFlagsDefaults(t *testing.T) {
	cfg, err := parseFlags(nil)
	require.NoError(t, err)
	require.Equal(t, ":8420", cfg.httpAddr)
	require.Equal(t, 5*time.Second, cfg.discoveryInterval)
	require.Equal(t, 2, cfg.maxInflightPerDevice)
}

func TestParseFlagsRejectsBadLogLevel(t *testing.T) {
	_, err := parseFlags([]string{"--log-level=verbose"})
	require.Error(t, err)
}

func TestParseFlagsRejectsZeroMaxInflight(t *testing.T) {
	_, err := parseFlags([]string{"--max-inflight-per-device=0"})
	require.Error(t, err)
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "probe.yaml")
	require.NoError(t, os.WriteFile(path, []byte("httpAddr: \":9999\"\nlogLevel: debug\n"), 0o644))

	cfg, err := parseFlags([]string{"--config=" + path, "--http-addr=:7777"})
	require.NoError(t, err)
	require.Equal(t, ":7777", cfg.httpAddr) // flag wins
	require.Equal(t, "debug", cfg.logLevel) // file wins where flag wasn't set
}

func TestConfigFileIdentityFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "probe.yaml")
	require.NoError(t, os.WriteFile(path, []byte("manufacturerId: \"002137\"\nfamilyId: 10\n"), 0o644))

	cfg, err := parseFlags([]string{"--config=" + path})
	require.NoError(t, err)
	require.Equal(t, [3]byte{0x00, 0x21, 0x37}, cfg.manufacturerID)
	require.Equal(t, uint16(10), cfg.familyID)
}

func TestConfigFileMissingIsError(t *testing.T) {
	_, err := parseFlags([]string{"--config=/nonexistent/probe.yaml"})
	require.Error(t, err)
}
