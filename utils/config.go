package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cvaesurgery/nn"

	"gopkg.in/yaml.v3"
)

// Config holds an experiment configuration.
type Config struct {
	Dataset    string `yaml:"dataset"`
	User       string `yaml:"user"`
	WorkingDir string `yaml:"working_dir"`

	XDim  int `yaml:"x_dim"`
	ZDim  int `yaml:"z_dim"`
	HDim1 int `yaml:"h_dim1"`
	HDim2 int `yaml:"h_dim2"`

	Surgery    SurgeryConfig    `yaml:"surgery"`
	Evaluation EvaluationConfig `yaml:"evaluation"`

	// Filled in by SetupDirs.
	ExpRootDir string `yaml:"exp_root_dir,omitempty"`
	LogDir     string `yaml:"log_dir,omitempty"`
	CkptDir    string `yaml:"ckpt_dir,omitempty"`
}

// SurgeryConfig holds the pruning/expansion hyperparameters.
type SurgeryConfig struct {
	Mode         string  `yaml:"mode"`
	PruneK       float64 `yaml:"prune_k"`
	ExpandE      float64 `yaml:"expand_e"`
	Perturbation float64 `yaml:"perturbation"`
	Naming       string  `yaml:"naming"`
	Seed         uint64  `yaml:"seed"`
}

// EvaluationConfig describes which classes the regenerated model should
// still produce and where accuracy rows are appended.
type EvaluationConfig struct {
	ClassesRemembered []int  `yaml:"classes_remembered"`
	ClassesForgotten  []int  `yaml:"classes_not_remembered"`
	NSamples          int    `yaml:"n_samples"`
	AccPath           string `yaml:"acc_path"`
	AccuracyValues    string `yaml:"accuracy_values"`
}

// DefaultConfig mirrors the MNIST OneHotCVAE setup.
func DefaultConfig() *Config {
	return &Config{
		Dataset: "MNIST",
		XDim:    784,
		ZDim:    8,
		HDim1:   512,
		HDim2:   256,
		Surgery: SurgeryConfig{
			Mode:         "prune",
			PruneK:       0.1,
			ExpandE:      0.1,
			Perturbation: 0.01,
			Naming:       "wrapped",
			Seed:         42,
		},
		Evaluation: EvaluationConfig{
			NSamples:       5000,
			AccPath:        "metrics/acc.csv",
			AccuracyValues: "metrics/accuracy_values.csv",
		},
	}
}

// LoadConfig reads a YAML file over the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return config, nil
}

// SaveConfig writes config as YAML.
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// ValidateConfig validates an experiment configuration
func ValidateConfig(config *Config) error {
	if config.Dataset == "" {
		return fmt.Errorf("dataset must be set")
	}
	if config.XDim <= 0 || config.ZDim <= 0 || config.HDim1 <= 0 || config.HDim2 <= 0 {
		return fmt.Errorf("model dimensions must be positive")
	}

	s := config.Surgery
	if s.Mode != "prune" && s.Mode != "expand" && s.Mode != "eval" {
		return fmt.Errorf("surgery mode must be 'prune', 'expand' or 'eval', got %q", s.Mode)
	}
	if s.PruneK < 0 || s.PruneK > 1 {
		return fmt.Errorf("prune_k must be in [0, 1]")
	}
	if s.ExpandE < 0 || s.ExpandE > 1 {
		return fmt.Errorf("expand_e must be in [0, 1]")
	}
	if s.Perturbation < 0 {
		return fmt.Errorf("perturbation must be non-negative")
	}
	if _, err := nn.ParseNaming(s.Naming); err != nil {
		return err
	}

	seen := make(map[int]bool)
	for _, c := range append(append([]int{}, config.Evaluation.ClassesRemembered...), config.Evaluation.ClassesForgotten...) {
		if c < 0 || c >= nn.NumClasses {
			return fmt.Errorf("class %d out of range [0, %d)", c, nn.NumClasses)
		}
		if seen[c] {
			return fmt.Errorf("class %d listed twice", c)
		}
		seen[c] = true
	}
	if config.Evaluation.NSamples < 0 {
		return fmt.Errorf("n_samples must be non-negative")
	}
	return nil
}

// SetupDirs creates <root>/<dataset>/<name>/{logs,ckpts} and dumps the
// config next to them as config_<name>.yaml. An empty name uses a
// timestamp and dumps config.yaml.
func SetupDirs(config *Config, root, name string) error {
	file := "config_" + name + ".yaml"
	if name == "" {
		name = time.Now().Format("2006_01_02_150405")
		file = "config.yaml"
	}
	config.ExpRootDir = filepath.Join(root, strings.ToLower(config.Dataset), name)
	config.LogDir = filepath.Join(config.ExpRootDir, "logs")
	config.CkptDir = filepath.Join(config.ExpRootDir, "ckpts")
	for _, dir := range []string{config.LogDir, config.CkptDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return SaveConfig(filepath.Join(config.ExpRootDir, file), config)
}

// ParseClasses parses a comma or space separated class list such as "0,8".
func ParseClasses(s string) ([]int, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	classes := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("invalid class %q: %w", f, err)
		}
		if n < 0 || n >= nn.NumClasses {
			return nil, fmt.Errorf("class %d out of range [0, %d)", n, nn.NumClasses)
		}
		classes = append(classes, n)
	}
	return classes, nil
}
