package daemon_test

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/helix-pages/preflight/cmd/preflight-service/daemon"
	"github.com/helix-pages/preflight/internal/config"
	"github.com/helix-pages/preflight/internal/constants"
	"github.com/helix-pages/preflight/internal/webservice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFileIsLoaded(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "conf.yaml")
	content := "verbosity: 1\ndaemon:\n  listenhost: conf-host\n  listenport: 9999\n"
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0600), "Setup: couldn't write config file")

	a, err := daemon.New()
	require.NoError(t, err, "Setup: New should not return an error")
	a.SetArgs("version", "--config", configPath)

	require.NoError(t, a.Run(), "Run should not return an error")
	assert.Equal(t, 1, a.Config().Verbosity, "verbosity should come from the config file")
	assert.Equal(t, "conf-host", a.Config().Daemon.ListenHost, "listen host should come from the config file")
	assert.Equal(t, 9999, a.Config().Daemon.ListenPort, "listen port should come from the config file")
}

func TestConfigEnvOverrides(t *testing.T) {
	t.Setenv("PREFLIGHT_SERVICE_DAEMON_READTIMEOUT", "1s")
	t.Setenv("PREFLIGHT_SERVICE_DAEMON_FETCHTIMEOUT", "2s")

	a, err := daemon.New()
	require.NoError(t, err, "Setup: New should not return an error")
	a.SetArgs("version")

	require.NoError(t, a.Run(), "Run should not return an error")
	assert.Equal(t, time.Second, a.Config().Daemon.ReadTimeout, "read timeout should come from the environment")
	assert.Equal(t, 2*time.Second, a.Config().Daemon.FetchTimeout, "fetch timeout should come from the environment")
}

func TestMissingConfigFileErrors(t *testing.T) {
	a, err := daemon.New()
	require.NoError(t, err, "Setup: New should not return an error")
	a.SetArgs("version", "--config", filepath.Join(t.TempDir(), "missing.yaml"))

	require.Error(t, a.Run(), "Run should fail when the config file does not exist")
}

func TestUsageErrors(t *testing.T) {
	tests := map[string]struct {
		args []string

		wantErr   bool
		wantUsage bool
	}{
		"Unknown subcommand is a usage error": {
			args:      []string{"doesnotexist"},
			wantErr:   true,
			wantUsage: true,
		},
		"Completion is not a usage error": {
			args: []string{"completion", "bash"},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			a, err := daemon.New()
			require.NoError(t, err, "Setup: New should not return an error")
			a.SetArgs(tc.args...)

			err = a.Run()
			if tc.wantErr {
				require.Error(t, err, "Run should return an error")
			} else {
				require.NoError(t, err, "Run should not return an error")
			}
			assert.Equal(t, tc.wantUsage, a.UsageError(), "unexpected usage error classification")
		})
	}
}

func TestDaemonConfigBadPathErrors(t *testing.T) {
	t.Parallel()

	conf := &daemon.AppConfig{
		Daemon: webservice.StaticConfig{
			ConfigPath: "/does/not/exist.json",
		},
	}
	a := daemon.NewForTests(t, conf, nil)

	chErr := make(chan error, 1)
	go func() {
		chErr <- a.Run()
	}()
	a.WaitReady()

	select {
	case err := <-chErr:
		require.Error(t, err, "Run should return with an error")
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return on a bad dynamic config path")
	}
}

func TestDaemonStartsAndQuits(t *testing.T) {
	a, wait := startDaemon(t, nil, &config.Conf{})
	a.Quit()
	wait()
}

func TestHupDumpsStacks(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err, "Setup: pipe shouldn't fail")

	orig := os.Stdout
	os.Stdout = w

	daemon.DumpStacks()

	os.Stdout = orig
	w.Close()

	var out bytes.Buffer
	_, err = io.Copy(&out, r)
	require.NoError(t, err, "Couldn't copy stdout to buffer")
	assert.Contains(t, out.String(), "goroutine", "Stack dump should list goroutines")
}

func TestBadAppConfigReturnsError(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "conf.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("verbosity: [broken\n"), 0600), "Setup: couldn't write config file")

	a, err := daemon.New()
	require.NoError(t, err, "Setup: New should not return an error")
	a.SetArgs("version", "--config", configPath)

	require.Error(t, a.Run(), "Run should return an error on an invalid config file")
}

func TestRootCmd(t *testing.T) {
	app, err := daemon.New()
	require.NoError(t, err)

	cmd := app.RootCmd()

	assert.NotNil(t, cmd, "Returned root cmd should not be nil")
	assert.Equal(t, constants.CmdName, cmd.Name())
}

// startDaemon prepares and starts the daemon in the background. The done function should be called
// to wait for the daemon to stop.
//
// The done function should be called in the main goroutine for the test.
func startDaemon(t *testing.T, conf *daemon.AppConfig, daeConf *config.Conf) (app *daemon.App, done func()) {
	t.Helper()

	a := daemon.NewForTests(t, conf, daeConf)

	chErr := make(chan error, 1)
	go func() {
		chErr <- a.Run()
	}()
	a.WaitReady()
	time.Sleep(50 * time.Millisecond)

	return a, func() {
		err := <-chErr
		require.NoError(t, err, "Run should return without an error")
	}
}
