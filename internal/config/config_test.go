package config

import (
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.AdminRole() != "Administrador" {
		t.Fatalf("unexpected admin role %q", cfg.AdminRole())
	}
	if !cfg.HasCapability("Solicitante", "Requester") || cfg.HasCapability("Solicitante", "Administrator") {
		t.Fatalf("unexpected requester capabilities %v", cfg.Capabilities("Solicitante"))
	}
}

func TestFromYAMLFillsDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("auth:\n  jwt_secret: s3cret\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server.BasePath != "/v1" || cfg.Requests.CodePrefix != "SOL" || cfg.Requests.DefaultRole != "Solicitante" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Auth.JWTSecret != "s3cret" {
		t.Fatalf("expected jwt secret, got %q", cfg.Auth.JWTSecret)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name string
		yml  string
		want string
	}{
		{"no admin role", "roles:\n  Solicitante: [Requester]\nrequests:\n  default_role: Solicitante\n", "must grant Administrator"},
		{"unknown default role", "requests:\n  default_role: Nadie\n", "not a defined role"},
		{"relative base path", "server:\n  base_path: v1\n", "must start with /"},
		{"webhook without url", "webhooks:\n  - modules: [Solicitudes]\n", "webhooks[0].url is required"},
		{"negative timeout", "webhooks:\n  - url: http://x\n    timeout_seconds: -1\n", "timeout_seconds"},
		{"bad yaml", "roles: [", "invalid config yaml"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromYAML([]byte(tc.yml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadOptionalWithoutFile(t *testing.T) {
	cfg, err := LoadOptional(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:8080" {
		t.Fatalf("expected default addr, got %q", cfg.Server.Addr)
	}
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatalf("expected Load to require the file")
	}
}
