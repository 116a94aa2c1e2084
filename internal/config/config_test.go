package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEnvOr(t *testing.T) {
	key := "PPLX_TEST_ENV"
	fallback := "default"

	t.Setenv(key, "")
	if got := envOr(key, fallback); got != fallback {
		t.Errorf("envOr() = %v, want %v", got, fallback)
	}

	t.Setenv(key, "set")
	if got := envOr(key, fallback); got != "set" {
		t.Errorf("envOr() = %v, want %v", got, "set")
	}
}

func TestEnvIntOr(t *testing.T) {
	key := "PPLX_TEST_INT"
	fallback := 42

	t.Setenv(key, "")
	if got := envIntOr(key, fallback); got != fallback {
		t.Errorf("envIntOr() = %v, want %v", got, fallback)
	}

	t.Setenv(key, "100")
	if got := envIntOr(key, fallback); got != 100 {
		t.Errorf("envIntOr() = %v, want %v", got, 100)
	}

	t.Setenv(key, "invalid")
	if got := envIntOr(key, fallback); got != fallback {
		t.Errorf("envIntOr() = %v, want %v", got, fallback)
	}
}

func TestEnvBoolOr(t *testing.T) {
	key := "PPLX_TEST_BOOL"
	fallback := true

	tests := []struct {
		val  string
		want bool
	}{
		{"1", true}, {"true", true}, {"yes", true}, {"on", true},
		{"0", false}, {"false", false}, {"no", false}, {"off", false},
		{"garbage", true},
	}

	for _, tt := range tests {
		t.Setenv(key, tt.val)
		if got := envBoolOr(key, fallback); got != tt.want {
			t.Errorf("envBoolOr(%q) = %v, want %v", tt.val, got, tt.want)
		}
	}
}

func TestMaskToken(t *testing.T) {
	tests := []struct {
		token string
		want  string
	}{
		{"", "(none)"},
		{"short", "***"},
		{"very-long-token-secret", "very...cret"},
	}
	for _, tt := range tests {
		if got := MaskToken(tt.token); got != tt.want {
			t.Errorf("MaskToken(%q) = %q, want %q", tt.token, got, tt.want)
		}
	}
}

func TestLoadFileConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	data := `{"port":"1234","hostUrl":"https://example.test/","maxPending":5,"timeoutSec":3}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PPLX_CONFIG", path)
	t.Setenv("PPLX_PORT", "")
	t.Setenv("PPLX_HOST_URL", "")
	t.Setenv("PPLX_MAX_PENDING", "")

	cfg := Load()
	if cfg.Port != "1234" {
		t.Errorf("port = %q, want 1234", cfg.Port)
	}
	if cfg.HostURL != "https://example.test/" {
		t.Errorf("host = %q", cfg.HostURL)
	}
	if cfg.MaxPendingDeliveries != 5 {
		t.Errorf("maxPending = %d, want 5", cfg.MaxPendingDeliveries)
	}
	if cfg.ActionTimeout != 3*time.Second {
		t.Errorf("action timeout = %v", cfg.ActionTimeout)
	}

	t.Setenv("PPLX_PORT", "9999")
	if got := Load().Port; got != "9999" {
		t.Errorf("env should win over file, got %q", got)
	}
}

func TestHostURLMatching(t *testing.T) {
	cfg := &RuntimeConfig{HostURL: "https://www.perplexity.ai/"}
	if got := cfg.HostOrigin(); got != "https://www.perplexity.ai" {
		t.Fatalf("origin = %q", got)
	}
	cases := map[string]bool{
		"https://www.perplexity.ai/search/abc": true,
		"https://www.perplexity.ai":            true,
		"http://www.perplexity.ai/":            false,
		"https://perplexity.ai/":               false,
		"about:blank":                          false,
		"":                                     false,
	}
	for u, want := range cases {
		if got := cfg.IsHostURL(u); got != want {
			t.Errorf("IsHostURL(%q) = %v, want %v", u, got, want)
		}
	}
}

func TestParseOptionsDefaults(t *testing.T) {
	opts, err := ParseOptions([]byte("enableDiff: false\ncharsPerToken: -2\n"))
	if err != nil {
		t.Fatal(err)
	}
	if opts.EnableDiff {
		t.Error("enableDiff should be false")
	}
	if !opts.EnableTimeline {
		t.Error("enableTimeline should keep its default")
	}
	if !opts.EnableAnswerCost {
		t.Error("enableAnswerCost should default to true")
	}
	if opts.CharsPerToken != DefaultCharsPerToken {
		t.Errorf("charsPerToken = %v, want default", opts.CharsPerToken)
	}
	if opts.OpenRouterModel != DefaultModel {
		t.Errorf("model = %q", opts.OpenRouterModel)
	}
	if len(opts.ModelPrices) != 4 {
		t.Errorf("expected default prices, got %v", opts.ModelPrices)
	}
}

func TestParseOptionsAnswerCostToggle(t *testing.T) {
	opts, err := ParseOptions([]byte("enableAnswerCost: false\n"))
	if err != nil {
		t.Fatal(err)
	}
	if opts.EnableAnswerCost {
		t.Error("enableAnswerCost should be false")
	}
	if len(opts.ModelPrices) == 0 {
		t.Error("prices stay available when cost display is off")
	}
}

func TestParseOptionsReplacesPrices(t *testing.T) {
	opts, err := ParseOptions([]byte("modelPrices:\n  Custom: 3.5\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(opts.ModelPrices) != 1 || opts.ModelPrices["Custom"] != 3.5 {
		t.Errorf("prices = %v, want only Custom", opts.ModelPrices)
	}
}

func TestOptionsStoreSaveAndNotify(t *testing.T) {
	s := NewOptionsStore(t.TempDir())
	if err := s.Load(); err != nil {
		t.Fatalf("load without file: %v", err)
	}
	if !s.Get().EnableImprovePrompt {
		t.Fatal("defaults expected")
	}

	var got []Options
	s.OnChange(func(o Options) { got = append(got, o) })

	opts := s.Get()
	opts.OpenRouterModel = "some/model"
	if err := s.Save(opts); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].OpenRouterModel != "some/model" {
		t.Fatalf("expected one change notification, got %v", got)
	}

	// Reloading an unchanged file is silent.
	if err := s.Reload(); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("unexpected notification on unchanged reload")
	}

	// The cache hands out copies.
	c := s.Get()
	c.ModelPrices["Injected"] = 1
	if _, ok := s.Get().ModelPrices["Injected"]; ok {
		t.Error("Get must return a copy")
	}
}

func TestOptionsStoreMalformedKeepsCache(t *testing.T) {
	dir := t.TempDir()
	s := NewOptionsStore(dir)
	opts := DefaultOptions()
	opts.EnableDiff = false
	if err := s.Save(opts); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.Path(), []byte("enableDiff: [unterminated"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := s.Reload(); err == nil {
		t.Fatal("expected parse error")
	}
	if s.Get().EnableDiff {
		t.Error("cache should be kept on malformed file")
	}
}

func TestOptionsStoreWatch(t *testing.T) {
	dir := t.TempDir()
	s := NewOptionsStore(dir)
	changed := make(chan Options, 4)
	s.OnChange(func(o Options) { changed <- o })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Watch(ctx); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(s.Path(), []byte("openrouterModel: watched/model\n"), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case o := <-changed:
		if o.OpenRouterModel != "watched/model" {
			t.Errorf("model = %q", o.OpenRouterModel)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after external write")
	}
}

func stubKeyring(t *testing.T, fn func(service, user string) (string, error)) {
	t.Helper()
	orig := keyringGet
	keyringGet = fn
	InvalidateKeyCache()
	t.Cleanup(func() {
		keyringGet = orig
		InvalidateKeyCache()
	})
}

func TestResolveAPIKeyOrder(t *testing.T) {
	stubKeyring(t, func(service, user string) (string, error) { return " from-keyring ", nil })

	t.Setenv("OPENROUTER_API_KEY", "")
	if got := ResolveAPIKey(Options{}); got != "from-keyring" {
		t.Errorf("keyring fallback = %q", got)
	}

	t.Setenv("OPENROUTER_API_KEY", "from-env")
	if got := ResolveAPIKey(Options{}); got != "from-env" {
		t.Errorf("env = %q", got)
	}
	if got := ResolveAPIKey(Options{OpenRouterAPIKey: " from-file "}); got != "from-file" {
		t.Errorf("file = %q", got)
	}

	t.Setenv("OPENROUTER_API_KEY", "")
	stubKeyring(t, func(service, user string) (string, error) { return "", errors.New("no keyring") })
	if got := ResolveAPIKey(Options{}); got != "" {
		t.Errorf("expected empty key, got %q", got)
	}
}

func TestResolveAPIKeyCachesKeyring(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "")
	lookups := 0
	stubKeyring(t, func(service, user string) (string, error) {
		lookups++
		return "k1", nil
	})

	for i := 0; i < 3; i++ {
		if got := ResolveAPIKey(Options{}); got != "k1" {
			t.Fatalf("key = %q", got)
		}
	}
	if lookups != 1 {
		t.Errorf("keyring lookups = %d, want 1", lookups)
	}

	s := NewOptionsStore(t.TempDir())
	opts := DefaultOptions()
	opts.EnableDiff = false
	if err := s.Save(opts); err != nil {
		t.Fatal(err)
	}
	ResolveAPIKey(Options{})
	if lookups != 2 {
		t.Errorf("options change should refresh the keyring lookup, lookups = %d", lookups)
	}

	InvalidateKeyCache()
	ResolveAPIKey(Options{})
	if lookups != 3 {
		t.Errorf("lookups after invalidate = %d, want 3", lookups)
	}
}
