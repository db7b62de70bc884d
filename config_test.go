package duoflow

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Duo.Failmode != FailmodeOpen {
		t.Fatalf("default failmode = %q, want open", cfg.Duo.Failmode)
	}
	if cfg.State.TTL != DefaultStateTTL {
		t.Fatalf("default TTL = %v, want %v", cfg.State.TTL, DefaultStateTTL)
	}
	if cfg.Audit.Enabled {
		t.Fatal("audit must be disabled by default")
	}
	if !cfg.Metrics.Enabled {
		t.Fatal("metrics must be enabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"bad failmode", func(c *Config) { c.Duo.Failmode = "ajar" }, true},
		{"zero ttl", func(c *Config) { c.State.TTL = 0 }, true},
		{"negative ttl", func(c *Config) { c.State.TTL = -time.Hour }, true},
		{"negative audit buffer", func(c *Config) {
			c.Audit.Enabled = true
			c.Audit.BufferSize = -1
		}, true},
		{"failmode closed", func(c *Config) { c.Duo.Failmode = FailmodeClosed }, false},
		{"missing credentials ok", func(c *Config) { c.Duo = DuoConfig{Failmode: FailmodeOpen} }, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestConfigCloneIsolatesRoleSlice(t *testing.T) {
	cfg := testConfig()
	cfg.Roles.RequireMFA = []string{"administrator"}

	cloned := cloneConfig(cfg)
	cfg.Roles.RequireMFA[0] = "mutated"

	if cloned.Roles.RequireMFA[0] != "administrator" {
		t.Fatal("clone must not share the role slice")
	}
}

func TestConfigCloneKeepsNilRoles(t *testing.T) {
	cfg := testConfig()
	cloned := cloneConfig(cfg)

	// nil and empty select different policies; the clone must not conflate
	// them.
	if cloned.Roles.RequireMFA != nil {
		t.Fatal("nil role list must stay nil after cloning")
	}
}
