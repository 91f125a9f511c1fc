package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "none.env"), "--log-level", "none"))
	err := cmd.Execute()
	return out.String(), err
}

func TestBumpCommand(t *testing.T) {
	mr := miniredis.RunT(t)
	out, err := run(t, "bump", "articles", "--redis-url", "redis://"+mr.Addr())
	require.NoError(t, err)
	assert.Contains(t, out, "articles is now at")
	assert.Contains(t, out, "v2")

	v, err := mr.Get("ver:articles")
	require.NoError(t, err)
	assert.Equal(t, "2", v)
}

func TestBumpWithoutStore(t *testing.T) {
	t.Setenv("GUARD_REDIS_URL", "")
	_, err := run(t, "bump", "articles")
	assert.ErrorIs(t, err, errNoStore)
}

func TestLimitCommand(t *testing.T) {
	mr := miniredis.RunT(t)
	url := "redis://" + mr.Addr()
	out, err := run(t, "limit", "search", "ip1", "--limit", "1", "--window", "30s", "--redis-url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "true")
	assert.NotContains(t, out, "rate limited")

	out, err = run(t, "limit", "search", "ip1", "--limit", "1", "--window", "30s", "--redis-url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "rate limited, retry after 30s")
}

func TestSuspiciousCommand(t *testing.T) {
	mr := miniredis.RunT(t)
	url := "redis://" + mr.Addr()
	out, err := run(t, "suspicious", "--redis-url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "no suspicious clients recorded")

	_, err = mr.ZAdd("abuse:scores", 3, "1.2.3.4")
	require.NoError(t, err)
	mr.HSet("abuse:detail:1.2.3.4", "k:ip_block", "3")
	out, err = run(t, "suspicious", "--redis-url", url, "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "1.2.3.4")
	assert.Contains(t, out, "k:ip_block=3")
}

func TestArgsAreChecked(t *testing.T) {
	_, err := run(t, "bump")
	assert.Error(t, err)
	_, err = run(t, "limit", "only-bucket")
	assert.Error(t, err)
}
