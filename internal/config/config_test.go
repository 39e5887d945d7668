package config

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

const testSigningKey = "0123456789abcdef0123"

func TestValidateFillsDefaults(test *testing.T) {
	test.Parallel()
	cfg := Config{ServiceSigningKey: testSigningKey, SessionSigningKey: "session"}
	if err := cfg.Validate(); err != nil {
		test.Fatalf("validate: %v", err)
	}
	if cfg.HTTPListenAddr != ":8080" || cfg.GRPCListenAddr != ":7000" {
		test.Fatalf("unexpected listen addresses %q %q", cfg.HTTPListenAddr, cfg.GRPCListenAddr)
	}
	if cfg.PendingTimeout != 30*time.Second || cfg.RateLimitWindow != time.Minute || cfg.RateLimitMax != 50 || cfg.MaxRetries != 3 {
		test.Fatalf("unexpected credit defaults: %+v", cfg)
	}
	if cfg.SessionCookieName != "app_session" || cfg.SessionIssuer != "tauth" {
		test.Fatalf("unexpected session defaults: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.AllowedOrigins, []string{"http://localhost:8000"}) {
		test.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
	if cfg.ChatEnabled() || cfg.CalendarEnabled() || cfg.PaymentsEnabled() || cfg.UsesMemoryStore() {
		test.Fatalf("expected optional integrations to be disabled")
	}
}

func TestValidateRejects(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name string
		cfg  Config
	}{
		{name: "short service key", cfg: Config{ServiceSigningKey: "short", SessionSigningKey: "session"}},
		{name: "missing session key", cfg: Config{ServiceSigningKey: testSigningKey}},
		{name: "negative retries", cfg: Config{ServiceSigningKey: testSigningKey, SessionSigningKey: "session", MaxRetries: -1}},
		{name: "negative window", cfg: Config{ServiceSigningKey: testSigningKey, SessionSigningKey: "session", RateLimitWindow: -time.Second}},
		{name: "unknown time zone", cfg: Config{ServiceSigningKey: testSigningKey, SessionSigningKey: "session", LessonTimeZone: "Mars/Olympus"}},
	}
	for _, testCase := range testCases {
		cfg := testCase.cfg
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
			test.Fatalf("%s: expected ErrInvalidConfig, got %v", testCase.name, err)
		}
	}
}

func TestUsesMemoryStore(test *testing.T) {
	test.Parallel()
	if !(Config{DatabaseURL: " Memory "}).UsesMemoryStore() {
		test.Fatalf("expected memory store")
	}
}

func TestParseAllowedOrigins(test *testing.T) {
	test.Parallel()
	got := ParseAllowedOrigins(" http://a.test, ,http://b.test ")
	if !reflect.DeepEqual(got, []string{"http://a.test", "http://b.test"}) {
		test.Fatalf("unexpected origins %v", got)
	}
	if len(ParseAllowedOrigins("  ")) != 0 {
		test.Fatalf("expected empty origins")
	}
}
