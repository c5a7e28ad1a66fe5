package strategy

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tradegate/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var loaderLog = logger.Named("strategy")

// FileConfig 是策略 YAML 文件结构。
type FileConfig struct {
	Strategies []StrategyConfig `yaml:"strategies"`
}

// ReadStrategiesFile 读取并校验策略文件，任一策略无效则整体失败。
func ReadStrategiesFile(path string) ([]StrategyConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read strategies file failed: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse strategies file failed: %w", err)
	}
	seen := make(map[string]bool, len(cfg.Strategies))
	for i, s := range cfg.Strategies {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("strategies[%d]: %w", i, err)
		}
		id := strings.TrimSpace(s.ID)
		if seen[id] {
			return nil, fmt.Errorf("strategies[%d]: duplicate id %s", i, id)
		}
		seen[id] = true
	}
	return cfg.Strategies, nil
}

// FileWatcher 监听策略文件变化并同步到 Registry。
// 只会删除此前由文件加载、现已从文件移除的策略，API 创建的策略不受影响。
type FileWatcher struct {
	path     string
	registry *Registry
	v        *viper.Viper
	onReload func([]StrategyConfig)
	fileIDs  map[string]struct{}
}

// WatchStrategiesFile 首次加载文件并开启热更新。
func WatchStrategiesFile(path string, registry *Registry, onReload func([]StrategyConfig)) (*FileWatcher, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("strategies file path is empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read strategies file failed: %w", err)
	}
	w := &FileWatcher{path: path, registry: registry, v: v, onReload: onReload}
	if err := w.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if evt.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		if err := w.reload(); err != nil {
			loaderLog.Errorf("策略文件热加载失败，保留旧配置: %v", err)
		}
	})
	v.WatchConfig()
	return w, nil
}

func (w *FileWatcher) reload() error {
	strategies, err := ReadStrategiesFile(w.path)
	if err != nil {
		return err
	}
	next := make(map[string]struct{}, len(strategies))
	for _, cfg := range strategies {
		if err := w.registry.Upsert(cfg); err != nil {
			return err
		}
		next[strings.TrimSpace(cfg.ID)] = struct{}{}
	}
	for id := range w.fileIDs {
		if _, ok := next[id]; !ok {
			w.registry.Remove(id)
		}
	}
	w.fileIDs = next
	loaderLog.Infof("loaded %d strategies from %s", len(strategies), filepath.Base(w.path))
	if w.onReload != nil {
		w.onReload(strategies)
	}
	return nil
}
