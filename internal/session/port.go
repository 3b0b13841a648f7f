package session

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// FreePort scans [start, end] and returns the first port nothing is
// listening on. Ports with an active listener are skipped so multiple
// editor instances can coexist on one machine.
func FreePort(start, end int) (int, error) {
	for port := start; port <= end; port++ {
		if portInUse(port) {
			continue
		}
		ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err != nil {
			continue
		}
		ln.Close()
		return port, nil
	}
	return 0, fmt.Errorf("no free port in %d-%d", start, end)
}

func portInUse(port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), 200*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// launchArgs builds the editor command line for a debuggable instance.
// Workspace trust prompts are disabled up front so the first chat prompt
// is not blocked behind a modal the driver cannot reach.
func launchArgs(port int, userDataDir, workspace string) []string {
	args := []string{
		"--remote-debugging-port=" + strconv.Itoa(port),
		"--user-data-dir=" + userDataDir,
		"--no-sandbox",
		"--disable-workspace-trust",
		"--disable-web-security",
	}
	if workspace != "" {
		args = append(args, workspace)
	}
	return args
}
