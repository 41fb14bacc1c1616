package binlog

import (
	"os"
	"testing"
	"time"
)

func TestTcpKeepaliveConfigFromEnv(t *testing.T) {
	for _, k := range []string{envTCPKeepAlive, envTCPKeepIdle, envTCPKeepIntvl, envTCPKeepCnt} {
		os.Unsetenv(k)
	}

	cfg := tcpKeepaliveConfigFromEnv()
	if cfg.enabled {
		t.Error("keepalive should default to disabled (opt-in via LIBREPLICATION_TCP_KEEPALIVE)")
	}

	os.Setenv(envTCPKeepAlive, "1")
	defer os.Unsetenv(envTCPKeepAlive)
	cfg = tcpKeepaliveConfigFromEnv()
	if !cfg.enabled {
		t.Error("keepalive should be enabled when LIBREPLICATION_TCP_KEEPALIVE=1")
	}

	os.Setenv(envTCPKeepAlive, "false")
	os.Setenv(envTCPKeepIdle, "30")
	os.Setenv(envTCPKeepIntvl, "10")
	os.Setenv(envTCPKeepCnt, "3")
	defer func() {
		os.Unsetenv(envTCPKeepAlive)
		os.Unsetenv(envTCPKeepIdle)
		os.Unsetenv(envTCPKeepIntvl)
		os.Unsetenv(envTCPKeepCnt)
	}()

	cfg = tcpKeepaliveConfigFromEnv()
	if cfg.enabled {
		t.Error("keepalive should be disabled when LIBREPLICATION_TCP_KEEPALIVE=false")
	}
	if cfg.idle != 30*time.Second {
		t.Errorf("idle = %v, want 30s", cfg.idle)
	}
	if cfg.interval != 10*time.Second {
		t.Errorf("interval = %v, want 10s", cfg.interval)
	}
	if cfg.count != 3 {
		t.Errorf("count = %d, want 3", cfg.count)
	}
}

func TestServerIDFromEnv(t *testing.T) {
	os.Unsetenv(envServerID)
	if got := serverIDFromEnv(42); got != 42 {
		t.Errorf("serverIDFromEnv default = %d, want 42", got)
	}

	os.Setenv(envServerID, "1001")
	defer os.Unsetenv(envServerID)
	if got := serverIDFromEnv(42); got != 1001 {
		t.Errorf("serverIDFromEnv override = %d, want 1001", got)
	}

	os.Setenv(envServerID, "not-a-number")
	if got := serverIDFromEnv(42); got != 42 {
		t.Errorf("serverIDFromEnv with bad value = %d, want fallback 42", got)
	}
}
