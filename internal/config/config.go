package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// 环境变量覆盖项，密钥不建议写进 YAML。
const (
	envBybitKey     = "BYBIT_API_KEY"
	envBybitSecret  = "BYBIT_API_SECRET"
	envBybitTestnet = "BYBIT_TESTNET"
	envDatabaseDSN  = "DATABASE_DSN"
	envTelegramBot  = "TELEGRAM_BOT_TOKEN"
)

func Load(path string) (*Config, error) {
	files, err := resolveConfigIncludes(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigType("yaml")
	for _, file := range files {
		if err := mergeConfigFile(v, file); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", file, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	if err := loadDotEnv(path, cfg.App.EnvFile); err != nil {
		return nil, err
	}
	applyEnvOverrides(&cfg)
	setKeys := make(keySet)
	collectSettingsKeys(v.AllSettings(), setKeys)
	cfg.applyDefaults(setKeys)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadDotEnv 读取 .env（默认与配置文件同目录），文件不存在时忽略。
// 已存在的进程环境变量不会被覆盖。
func loadDotEnv(cfgPath, envFile string) error {
	envFile = strings.TrimSpace(envFile)
	if envFile == "" {
		envFile = filepath.Join(filepath.Dir(cfgPath), ".env")
	} else if !filepath.IsAbs(envFile) {
		envFile = filepath.Join(filepath.Dir(cfgPath), envFile)
	}
	if err := godotenv.Load(envFile); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading env file failed (%s): %w", envFile, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(envBybitKey)); v != "" {
		cfg.Exchange.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv(envBybitSecret)); v != "" {
		cfg.Exchange.APISecret = v
	}
	if v := strings.TrimSpace(os.Getenv(envBybitTestnet)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Exchange.Testnet = b
		}
	}
	if v := strings.TrimSpace(os.Getenv(envDatabaseDSN)); v != "" {
		cfg.Store.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv(envTelegramBot)); v != "" {
		cfg.Notify.Telegram.BotToken = v
	}
}

func mergeConfigFile(v *viper.Viper, path string) error {
	tmp := viper.New()
	tmp.SetConfigFile(path)
	if err := tmp.ReadInConfig(); err != nil {
		return err
	}
	return v.MergeConfigMap(tmp.AllSettings())
}

func resolveConfigIncludes(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	stack := make(map[string]bool)
	files, err := collectConfigFiles(abs, seen, stack)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return []string{abs}, nil
	}
	return files, nil
}

// collectConfigFiles 深度优先展开 include，被包含文件先于包含者合并。
func collectConfigFiles(path string, seen, stack map[string]bool) ([]string, error) {
	path = filepath.Clean(path)
	if stack[path] {
		return nil, fmt.Errorf("include cycle detected: %s", path)
	}
	if seen[path] {
		return nil, nil
	}
	stack[path] = true
	includes, err := parseIncludeList(path)
	if err != nil {
		return nil, fmt.Errorf("parsing include failed (%s): %w", path, err)
	}
	dir := filepath.Dir(path)
	var ordered []string
	for _, inc := range includes {
		incPath := inc
		if !filepath.IsAbs(inc) {
			incPath = filepath.Join(dir, inc)
		}
		sub, err := collectConfigFiles(incPath, seen, stack)
		if err != nil {
			return nil, err
		}
		ordered = append(ordered, sub...)
	}
	delete(stack, path)
	seen[path] = true
	return append(ordered, path), nil
}

func parseIncludeList(path string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	raw := v.Get("include")
	if raw == nil {
		return nil, nil
	}
	var items []string
	switch val := raw.(type) {
	case string:
		items = []string{val}
	case []any:
		for _, item := range val {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("include only supports strings")
			}
			items = append(items, str)
		}
	case []string:
		items = val
	default:
		return nil, fmt.Errorf("include must be a string array")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out, nil
}

func collectSettingsKeys(settings map[string]any, dest keySet) {
	if dest == nil || len(settings) == 0 {
		return
	}
	flattenConfigKeys("", settings, dest)
}

func flattenConfigKeys(prefix string, node any, dest keySet) {
	switch val := node.(type) {
	case map[string]any:
		if len(val) == 0 && prefix != "" {
			dest.mark(prefix)
		}
		for k, v := range val {
			next := strings.ToLower(strings.TrimSpace(k))
			if next == "" {
				continue
			}
			if prefix != "" {
				next = prefix + "." + next
			}
			flattenConfigKeys(next, v, dest)
		}
	case []any:
		if prefix != "" {
			dest.mark(prefix)
		}
	default:
		if prefix != "" {
			dest.mark(prefix)
		}
	}
}
