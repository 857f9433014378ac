package leader

import (
	"os"
	"testing"
)

func TestIdentity_FromPodName(t *testing.T) {
	t.Setenv("POD_NAME", "auctiond-abc123")
	if got := identity(); got != "auctiond-abc123" {
		t.Errorf("identity() = %q, want %q", got, "auctiond-abc123")
	}
}

func TestIdentity_Hostname(t *testing.T) {
	t.Setenv("POD_NAME", "")
	host, err := os.Hostname()
	if err != nil {
		t.Skip("cannot get hostname")
	}
	if got := identity(); got != host {
		t.Errorf("identity() = %q, want %q", got, host)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Enabled {
		t.Error("leader election should be disabled by default")
	}
	if cfg.LeaseName == "" || cfg.LeaseNamespace == "" {
		t.Error("default lease name/namespace must be set")
	}
	if cfg.RenewDeadline >= cfg.LeaseDuration {
		t.Errorf("renew deadline %s must be below lease duration %s", cfg.RenewDeadline, cfg.LeaseDuration)
	}
}
