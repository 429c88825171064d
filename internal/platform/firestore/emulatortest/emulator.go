// Package emulatortest boots the Firestore emulator in Docker for integration tests.
package emulatortest

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"
)

const (
	image        = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"
	readyTimeout = 30 * time.Second
)

// Start runs a fresh emulator and returns its host:port. The container is stopped when
// the test finishes. Tests are skipped in short mode or when Docker is unavailable.
func Start(t testing.TB) string {
	t.Helper()
	if testing.Short() {
		t.Skip("firestore emulator skipped in short mode")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	if err := docker(5*time.Second, "info"); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}

	port := freePort(t)
	out, err := exec.Command("docker", "run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		image,
		"gcloud", "beta", "emulators", "firestore", "start", "--host-port=0.0.0.0:8080", "--quiet",
	).CombinedOutput()
	if err != nil {
		t.Fatalf("start firestore emulator: %v: %s", err, out)
	}
	container := strings.TrimSpace(string(out))
	if container == "" {
		t.Fatalf("docker returned no container id")
	}
	t.Cleanup(func() { _ = docker(10*time.Second, "stop", container) })

	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	waitReady(t, endpoint)
	return endpoint
}

func docker(timeout time.Duration, args ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return exec.CommandContext(ctx, "docker", args...).Run()
}

func freePort(t testing.TB) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("allocate port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func waitReady(t testing.TB, endpoint string) {
	t.Helper()
	deadline := time.Now().Add(readyTimeout)
	for {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("firestore emulator at %s not ready: %v", endpoint, err)
		}
		time.Sleep(250 * time.Millisecond)
	}
}
