package config

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"reflect"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const (
	DefaultCharsPerToken  = 4.0
	DefaultModel          = "deepseek/deepseek-r1:free"
	DefaultAnswerSelector = "div.prose"
	OptionsFileName       = "options.yaml"
)

// Options is the user-facing option record shared by every page instance.
type Options struct {
	EnableSessionCounter bool               `yaml:"enableSessionCounter" json:"enableSessionCounter"`
	EnableImprovePrompt  bool               `yaml:"enableImprovePrompt" json:"enableImprovePrompt"`
	EnablePromptCounter  bool               `yaml:"enablePromptCounter" json:"enablePromptCounter"`
	EnableDiff           bool               `yaml:"enableDiff" json:"enableDiff"`
	EnableTimeline       bool               `yaml:"enableTimeline" json:"enableTimeline"`
	EnableAnswerCost     bool               `yaml:"enableAnswerCost" json:"enableAnswerCost"`
	CharsPerToken        float64            `yaml:"charsPerToken" json:"charsPerToken"`
	SoftLimitTokens      int                `yaml:"softLimitTokens" json:"softLimitTokens"`
	HardLimitTokens      int                `yaml:"hardLimitTokens" json:"hardLimitTokens"`
	OpenRouterAPIKey     string             `yaml:"openrouterApiKey" json:"openrouterApiKey,omitempty"`
	OpenRouterModel      string             `yaml:"openrouterModel" json:"openrouterModel"`
	ModelPrices          map[string]float64 `yaml:"modelPrices" json:"modelPrices"`
	AnswerSelector       string             `yaml:"answerSelector" json:"answerSelector"`
}

func DefaultOptions() Options {
	return Options{
		EnableSessionCounter: true,
		EnableImprovePrompt:  true,
		EnablePromptCounter:  true,
		EnableDiff:           true,
		EnableTimeline:       true,
		EnableAnswerCost:     true,
		CharsPerToken:        DefaultCharsPerToken,
		SoftLimitTokens:      4000,
		HardLimitTokens:      8000,
		OpenRouterModel:      DefaultModel,
		ModelPrices: map[string]float64{
			"Sonar Pro": 2.0,
			"Sonar":     1.0,
			"GPT-4o":    5.0,
			"Standard":  1.0,
		},
		AnswerSelector: DefaultAnswerSelector,
	}
}

// Normalize replaces invalid or missing values with defaults.
func (o Options) Normalize() Options {
	if o.CharsPerToken <= 0 {
		o.CharsPerToken = DefaultCharsPerToken
	}
	if o.OpenRouterModel == "" {
		o.OpenRouterModel = DefaultModel
	}
	if o.AnswerSelector == "" {
		o.AnswerSelector = DefaultAnswerSelector
	}
	if o.ModelPrices == nil {
		o.ModelPrices = map[string]float64{}
	}
	for name, price := range o.ModelPrices {
		if name == "" || price < 0 {
			delete(o.ModelPrices, name)
		}
	}
	return o
}

// Redacted returns a copy safe to show or log: the API key is masked.
func (o Options) Redacted() Options {
	o = o.clone()
	if o.OpenRouterAPIKey != "" {
		o.OpenRouterAPIKey = MaskToken(o.OpenRouterAPIKey)
	}
	return o
}

func (o Options) clone() Options {
	o.ModelPrices = maps.Clone(o.ModelPrices)
	return o
}

// ParseOptions decodes YAML on top of the defaults, so keys missing from
// the document keep their default value.
func ParseOptions(data []byte) (Options, error) {
	opts := DefaultOptions()
	prices := opts.ModelPrices
	opts.ModelPrices = nil
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return Options{}, fmt.Errorf("parse options: %w", err)
	}
	if opts.ModelPrices == nil {
		opts.ModelPrices = prices
	}
	return opts.Normalize(), nil
}

// OptionsStore caches the options file in memory and reloads it when the
// file changes on disk.
type OptionsStore struct {
	path string

	mu       sync.RWMutex
	cur      Options
	onChange []func(Options)
}

func NewOptionsStore(stateDir string) *OptionsStore {
	return &OptionsStore{
		path: filepath.Join(stateDir, OptionsFileName),
		cur:  DefaultOptions(),
	}
}

func (s *OptionsStore) Path() string {
	return s.path
}

// Load reads the file once. A missing file leaves the defaults in place.
func (s *OptionsStore) Load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read options: %w", err)
	}
	opts, err := ParseOptions(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cur = opts
	s.mu.Unlock()
	return nil
}

// Get returns a copy of the cached options.
func (s *OptionsStore) Get() Options {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.clone()
}

// Save overwrites the whole record on disk and in the cache.
func (s *OptionsStore) Save(opts Options) error {
	opts = opts.Normalize()
	data, err := yaml.Marshal(opts)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write options: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace options: %w", err)
	}
	s.apply(opts)
	return nil
}

// OnChange registers fn to run after the cached options change.
func (s *OptionsStore) OnChange(fn func(Options)) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

func (s *OptionsStore) apply(opts Options) {
	s.mu.Lock()
	if reflect.DeepEqual(s.cur, opts) {
		s.mu.Unlock()
		return
	}
	s.cur = opts
	subs := append([]func(Options){}, s.onChange...)
	s.mu.Unlock()
	InvalidateKeyCache()

	for _, fn := range subs {
		fn(opts.clone())
	}
}

// Reload re-reads the file and notifies subscribers when it changed.
// A malformed file keeps the previous cache.
func (s *OptionsStore) Reload() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.apply(DefaultOptions())
		return nil
	}
	if err != nil {
		return fmt.Errorf("read options: %w", err)
	}
	opts, err := ParseOptions(data)
	if err != nil {
		return err
	}
	s.apply(opts)
	return nil
}

// Watch follows the options file until ctx is done. The directory is
// watched rather than the file because editors and Save replace the file
// by rename.
func (s *OptionsStore) Watch(ctx context.Context) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("options watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if err := s.Reload(); err != nil {
					slog.Warn("options reload failed, keeping cached options", "err", err)
					continue
				}
				slog.Debug("options reloaded", "path", s.path)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("options watcher", "err", err)
			}
		}
	}()
	return nil
}
