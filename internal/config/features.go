package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/wowcoin/internal/ledger/domain"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var ErrFeatureNotFound = errors.New("feature_not_found")

// Feature is a metered action and what it costs.
type Feature struct {
	Key                  string `mapstructure:"key" json:"key"`
	Name                 string `mapstructure:"name" json:"name"`
	Cost                 int64  `mapstructure:"cost" json:"cost"`
	Reason               string `mapstructure:"reason" json:"reason"`
	RequiresConfirmation bool   `mapstructure:"requiresConfirmation" json:"requires_confirmation"`
}

func DefaultFeatures() []Feature {
	return []Feature{
		{Key: "card-scan", Name: "AI card scan", Cost: 1, Reason: string(domain.ReasonCardScan), RequiresConfirmation: true},
		{Key: "follow-up-draft", Name: "Follow-up draft", Cost: 1, Reason: string(domain.ReasonFollowUpDraft)},
		{Key: "intro-suggestion", Name: "Intro suggestion", Cost: 1, Reason: string(domain.ReasonIntroSuggestion)},
		{Key: "auto-email", Name: "Auto e-mail", Cost: 1, Reason: string(domain.ReasonAutoEmail), RequiresConfirmation: true},
		{Key: "export", Name: "Contact export", Cost: 1, Reason: string(domain.ReasonExport), RequiresConfirmation: true},
	}
}

type featureSet struct {
	byKey map[string]Feature
	keys  []string
}

// FeatureCatalog serves the current feature set and swaps it atomically on reload.
type FeatureCatalog struct {
	current atomic.Value // holds featureSet
}

func NewFeatureCatalog(log *zap.Logger) (*FeatureCatalog, error) {
	return LoadFeatureCatalog("", log)
}

// LoadFeatureCatalog reads features from path, or from the standard search paths when
// path is empty. A missing file yields the built-in defaults.
func LoadFeatureCatalog(path string, log *zap.Logger) (*FeatureCatalog, error) {
	log = log.Named("config.features")
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("features")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/wowcoin")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("WOWCOIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	catalog := &FeatureCatalog{}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		set, err := buildFeatureSet(DefaultFeatures())
		if err != nil {
			return nil, err
		}
		catalog.current.Store(set)
		log.Info("feature config not found, using defaults")
		return catalog, nil
	}

	set, err := decodeFeatures(v)
	if err != nil {
		return nil, err
	}
	catalog.current.Store(set)

	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeFeatures(v)
		if err != nil {
			log.Warn("invalid feature config ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		catalog.current.Store(updated)
		log.Info("feature config reloaded", zap.String("file", e.Name), zap.Int("features", len(updated.keys)))
	})
	v.WatchConfig()

	return catalog, nil
}

// NewStaticFeatureCatalog builds a catalog that never reloads.
func NewStaticFeatureCatalog(features []Feature) (*FeatureCatalog, error) {
	set, err := buildFeatureSet(features)
	if err != nil {
		return nil, err
	}
	catalog := &FeatureCatalog{}
	catalog.current.Store(set)
	return catalog, nil
}

// Lookup resolves a feature by key. Keys are matched after slug normalization.
func (c *FeatureCatalog) Lookup(key string) (Feature, error) {
	set := c.current.Load().(featureSet)
	feature, ok := set.byKey[slug.Make(key)]
	if !ok {
		return Feature{}, ErrFeatureNotFound
	}
	return feature, nil
}

// List returns all features ordered by key.
func (c *FeatureCatalog) List() []Feature {
	set := c.current.Load().(featureSet)
	out := make([]Feature, 0, len(set.keys))
	for _, key := range set.keys {
		out = append(out, set.byKey[key])
	}
	return out
}

func decodeFeatures(v *viper.Viper) (featureSet, error) {
	var features []Feature
	if err := v.UnmarshalKey("features", &features); err != nil {
		return featureSet{}, err
	}
	return buildFeatureSet(features)
}

func buildFeatureSet(features []Feature) (featureSet, error) {
	if len(features) == 0 {
		return featureSet{}, errors.New("features cannot be empty")
	}

	set := featureSet{byKey: make(map[string]Feature, len(features))}
	for _, feature := range features {
		feature.Key = slug.Make(feature.Key)
		if feature.Key == "" {
			return featureSet{}, errors.New("feature key cannot be empty")
		}
		if _, exists := set.byKey[feature.Key]; exists {
			return featureSet{}, fmt.Errorf("duplicate feature %q", feature.Key)
		}
		if feature.Cost <= 0 {
			return featureSet{}, fmt.Errorf("feature %q: cost must be positive", feature.Key)
		}
		reason := domain.ParseReason(feature.Reason)
		if !reason.IsSpend() {
			return featureSet{}, fmt.Errorf("feature %q: %q is not a spend reason", feature.Key, feature.Reason)
		}
		feature.Reason = string(reason)
		if strings.TrimSpace(feature.Name) == "" {
			feature.Name = feature.Key
		}

		set.byKey[feature.Key] = feature
		set.keys = append(set.keys, feature.Key)
	}
	sort.Strings(set.keys)
	return set, nil
}
