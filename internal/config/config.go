package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "TRADEAGENT_CONFIG"

// EnvPrefix 是按键覆盖配置的环境变量前缀，例如 TRADEAGENT_GATE_FAILURE_THRESHOLD。
const EnvPrefix = "TRADEAGENT"

const defaultConfigPath = "configs/config.yaml"

// secretEnv 列出可以只通过环境变量提供、不必出现在文件里的敏感字段。
var secretEnv = map[string]string{
	"llm.api_key": EnvPrefix + "_LLM_API_KEY",
}

// ResolvePath 依次使用命令行参数、TRADEAGENT_CONFIG 与默认路径。
func ResolvePath(flagValue string) string {
	if p := strings.TrimSpace(flagValue); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	return defaultConfigPath
}

// Load 读取配置文件（含 include 链），应用环境变量覆盖、默认值并校验。
// include 中的文件先合并，当前文件的值覆盖被包含文件。
func Load(path string) (*Config, error) {
	files, err := includeChain(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigType("yaml")
	for _, file := range files {
		part := viper.New()
		part.SetConfigFile(file)
		if err := part.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", file, err)
		}
		if err := v.MergeConfigMap(part.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging config file failed (%s): %w", file, err)
		}
	}

	// 只记录文件里出现的键，绑定环境变量之后 AllKeys 会包含未设置的键。
	keys := make(keySet)
	for _, key := range v.AllKeys() {
		keys.mark(key)
	}
	if err := bindEnv(v); err != nil {
		return nil, err
	}
	for key := range secretEnv {
		if v.IsSet(key) {
			keys.mark(key)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults(keys)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// bindEnv 让文件中已有的每个键都可以被 TRADEAGENT_<SECTION>_<KEY> 覆盖。
func bindEnv(v *viper.Viper) error {
	for _, key := range v.AllKeys() {
		if key == "include" {
			continue
		}
		if err := v.BindEnv(key, envName(key)); err != nil {
			return err
		}
	}
	for key, env := range secretEnv {
		if err := v.BindEnv(key, env); err != nil {
			return err
		}
	}
	return nil
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// includeChain 返回按合并顺序排列的配置文件：被包含的文件在前，入口文件在最后。
func includeChain(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w := &includeWalker{done: make(map[string]bool), active: make(map[string]bool)}
	if err := w.visit(abs); err != nil {
		return nil, err
	}
	return w.order, nil
}

type includeWalker struct {
	done   map[string]bool
	active map[string]bool
	order  []string
}

func (w *includeWalker) visit(path string) error {
	path = filepath.Clean(path)
	if w.active[path] {
		return fmt.Errorf("include cycle detected: %s", path)
	}
	if w.done[path] {
		return nil
	}
	w.active[path] = true
	defer delete(w.active, path)

	includes, err := readIncludes(path)
	if err != nil {
		return fmt.Errorf("parsing include failed (%s): %w", path, err)
	}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		if err := w.visit(inc); err != nil {
			return err
		}
	}
	w.done[path] = true
	w.order = append(w.order, path)
	return nil
}

func readIncludes(path string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if !v.IsSet("include") {
		return nil, nil
	}
	var out []string
	for _, inc := range v.GetStringSlice("include") {
		if inc = strings.TrimSpace(inc); inc != "" {
			out = append(out, inc)
		}
	}
	return out, nil
}
