package session

import (
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFreePortSkipsListeners(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	taken := ln.Addr().(*net.TCPAddr).Port

	port, err := FreePort(taken, taken+20)
	require.NoError(t, err)
	require.NotEqual(t, taken, port)
	require.GreaterOrEqual(t, port, taken)
	require.LessOrEqual(t, port, taken+20)
}

func TestFreePortExhausted(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	taken := ln.Addr().(*net.TCPAddr).Port

	_, err = FreePort(taken, taken)
	require.Error(t, err)
}

func TestLaunchArgs(t *testing.T) {
	args := launchArgs(9333, "/tmp/profile", "/src/project")
	require.Contains(t, args, "--remote-debugging-port="+strconv.Itoa(9333))
	require.Contains(t, args, "--user-data-dir=/tmp/profile")
	require.Contains(t, args, "--disable-workspace-trust")
	require.Equal(t, "/src/project", args[len(args)-1])

	args = launchArgs(9333, "/tmp/profile", "")
	require.NotContains(t, args, "")
	for _, a := range args {
		require.NotEqual(t, "/src/project", a)
	}
}
