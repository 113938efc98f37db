package config

import (
	"os"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	clearSynckitEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Storage.Provider != "memory" {
		t.Errorf("Storage.Provider = %q, want memory", cfg.Storage.Provider)
	}
	if cfg.PubSub.ChannelPrefix != "synckit:" {
		t.Errorf("PubSub.ChannelPrefix = %q, want synckit:", cfg.PubSub.ChannelPrefix)
	}
	if cfg.Auth.JWTSecret == "" {
		t.Error("expected a development JWT secret to be filled in")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	clearSynckitEnv(t)
	os.Setenv("SYNCKIT_SERVER_PORT", "9999")
	os.Setenv("SYNCKIT_STORAGE_PROVIDER", "postgres")
	defer clearSynckitEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Storage.Provider != "postgres" {
		t.Errorf("Storage.Provider = %q, want postgres", cfg.Storage.Provider)
	}
}

func TestLoad_ProductionRequiresLongSecret(t *testing.T) {
	clearSynckitEnv(t)
	os.Setenv("SYNCKIT_SERVER_ENVIRONMENT", "production")
	os.Setenv("SYNCKIT_AUTH_JWT_SECRET", "too-short")
	defer clearSynckitEnv(t)

	defer func() {
		if recover() == nil {
			t.Error("expected Load to panic on a short production secret")
		}
	}()
	Load()
}

func TestEnvReplacer(t *testing.T) {
	r := envReplacer{}
	if got := r.Replace("server.port"); got != "server_port" {
		t.Errorf("Replace = %q, want server_port", got)
	}
}

func clearSynckitEnv(t *testing.T) {
	t.Helper()
	for _, e := range os.Environ() {
		if len(e) > 8 && e[:8] == "SYNCKIT_" {
			for i := range e {
				if e[i] == '=' {
					os.Unsetenv(e[:i])
					break
				}
			}
		}
	}
}
