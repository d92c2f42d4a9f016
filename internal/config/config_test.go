package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9090")
	}
	if cfg.SummarizerMode != "auto" {
		t.Fatalf("SummarizerMode = %q, want %q", cfg.SummarizerMode, "auto")
	}
	if cfg.CacheCapacity != 1000 {
		t.Fatalf("CacheCapacity = %d, want 1000", cfg.CacheCapacity)
	}
	if cfg.DefaultMediaType != "application/json" {
		t.Fatalf("DefaultMediaType = %q, want application/json", cfg.DefaultMediaType)
	}
	if cfg.SubjectQuotaLimit != 0 || cfg.ClusterQuotaLimit != 0 {
		t.Fatalf("quota limits = %d/%d, want both 0", cfg.SubjectQuotaLimit, cfg.ClusterQuotaLimit)
	}
}

func TestLoadExplicitQuotaAndCapacity(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("CONVERSATION_CACHE_CAPACITY", "25")
	t.Setenv("QUOTA_SUBJECT_LIMIT", "100000")
	t.Setenv("QUOTA_CLUSTER_ID", "prod-east")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CacheCapacity != 25 {
		t.Fatalf("CacheCapacity = %d, want 25", cfg.CacheCapacity)
	}
	if cfg.SubjectQuotaLimit != 100000 {
		t.Fatalf("SubjectQuotaLimit = %d, want 100000", cfg.SubjectQuotaLimit)
	}
	if cfg.ClusterID != "prod-east" {
		t.Fatalf("ClusterID = %q, want prod-east", cfg.ClusterID)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"zero capacity", "CONVERSATION_CACHE_CAPACITY", "0"},
		{"negative subject quota", "QUOTA_SUBJECT_LIMIT", "-5"},
		{"bad media type", "APP_DEFAULT_MEDIA_TYPE", "application/xml"},
		{"unparsable capacity", "CONVERSATION_CACHE_CAPACITY", "lots"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q succeeded, want error", tc.key, tc.value)
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_LOG_LEVEL",
		"APP_DEFAULT_PROVIDER",
		"APP_DEFAULT_MEDIA_TYPE",
		"DATABASE_URL",
		"CONVERSATION_CACHE_CAPACITY",
		"QUOTA_SUBJECT_LIMIT",
		"QUOTA_CLUSTER_LIMIT",
		"QUOTA_CLUSTER_ID",
		"SUMMARIZER_MODE",
		"OPENAI_API_KEY",
		"OPENAI_MODEL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
