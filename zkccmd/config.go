package zkccmd

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"zkc.dev/zkc/project"
)

// Config holds the settings of a build. It can be read from a YAML file, and flags override it.
type Config struct {
	// Solc is the solc executable.
	Solc string `yaml:"solc"`
	// SolcVersion overrides the version reported in a standard JSON output.
	SolcVersion string   `yaml:"solc_version"`
	Optimize    bool     `yaml:"optimize"`
	Workers     int      `yaml:"workers"`
	Libraries   []string `yaml:"libraries"`
	// Dump lists the representations to dump: ethir, ir.
	Dump       []string `yaml:"dump"`
	ForceEVMLA bool     `yaml:"force_evmla"`
	// Cache is the path of a SQLite database keeping built artifacts between runs.
	Cache string `yaml:"cache"`

	OutputDir    string `yaml:"output_dir"`
	Overwrite    bool   `yaml:"overwrite"`
	Binary       bool   `yaml:"bin"`
	Assembly     bool   `yaml:"asm"`
	ABI          bool   `yaml:"abi"`
	CombinedJSON bool   `yaml:"combined_json"`
}

func DefaultConfig() Config {
	return Config{
		Solc:    "solc",
		Workers: 4,
	}
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(p string) (Config, error) {
	cfg := DefaultConfig()
	f, err := os.Open(p)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", p, err)
	}
	return cfg, nil
}

// Merge sets every field of over which is not the zero value on cfg.
func (cfg Config) Merge(over Config) Config {
	if over.Solc != "" {
		cfg.Solc = over.Solc
	}
	if over.SolcVersion != "" {
		cfg.SolcVersion = over.SolcVersion
	}
	if over.Workers > 0 {
		cfg.Workers = over.Workers
	}
	if over.Cache != "" {
		cfg.Cache = over.Cache
	}
	if over.OutputDir != "" {
		cfg.OutputDir = over.OutputDir
	}
	cfg.Libraries = append(cfg.Libraries, over.Libraries...)
	cfg.Dump = append(cfg.Dump, over.Dump...)
	cfg.Optimize = cfg.Optimize || over.Optimize
	cfg.ForceEVMLA = cfg.ForceEVMLA || over.ForceEVMLA
	cfg.Overwrite = cfg.Overwrite || over.Overwrite
	cfg.Binary = cfg.Binary || over.Binary
	cfg.Assembly = cfg.Assembly || over.Assembly
	cfg.ABI = cfg.ABI || over.ABI
	cfg.CombinedJSON = cfg.CombinedJSON || over.CombinedJSON
	return cfg
}

// DumpFlags parses the names in Dump.
func (cfg Config) DumpFlags() (project.DumpFlag, error) {
	var ret project.DumpFlag
	for _, name := range cfg.Dump {
		switch name {
		case "ethir":
			ret |= project.DumpEthIR
		case "ir":
			ret |= project.DumpIR
		default:
			return 0, fmt.Errorf("unknown dump flag %q", name)
		}
	}
	return ret, nil
}
