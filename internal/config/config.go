package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the variable that points at the profile file.
const EnvConfigPath = "BLAST_RUNNER_CONFIG"

type Config struct {
	SSH    SSHConfig    `yaml:"ssh"`
	Remote RemoteConfig `yaml:"remote"`
	Local  LocalConfig  `yaml:"local"`
	NCBI   NCBIConfig   `yaml:"ncbi"`
	Health HealthConfig `yaml:"health"`
}

type SSHConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	User           string        `yaml:"user"`
	PasswordEnv    string        `yaml:"password_env"`  // e.g. BLAST_SSH_PASSWORD
	PasswordFile   string        `yaml:"password_file"` // read when the env var is empty
	KnownHostsFile string        `yaml:"known_hosts"`   // empty: accept any host key
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	KeepAlive      time.Duration `yaml:"keepalive"`
}

type RemoteConfig struct {
	WorkDir       string            `yaml:"work_dir"`
	BlastBin      string            `yaml:"blast_bin"`
	MakeBlastDB   string            `yaml:"makeblastdb"`
	MaxTargetSeqs int               `yaml:"max_target_seqs"`
	BuildTimeout  time.Duration     `yaml:"build_timeout"`
	AlignTimeout  time.Duration     `yaml:"align_timeout"`
	Databases     map[string]string `yaml:"databases"`
	ProjectDir    string            `yaml:"project_dir"`
	CondaEnv      string            `yaml:"conda_env"` // environment prefix, e.g. /opt/conda/envs/blast
}

type LocalConfig struct {
	OutputDir string `yaml:"output_dir"`
}

type NCBIConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
}

type HealthConfig struct {
	Interval time.Duration `yaml:"interval"`
	Jitter   time.Duration `yaml:"jitter"`
}

// Load reads the profile at path. An empty path yields the defaults.
// Environment overrides are applied last.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("yaml unmarshal: %w", err)
		}
	}
	cfg.applyEnv()
	cfg.normalize()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.SSH.Host = getenv("BLAST_SSH_HOST", c.SSH.Host)
	c.SSH.User = getenv("BLAST_SSH_USER", c.SSH.User)
	if n := atoiEnv("SSH_PORT"); n > 0 {
		c.SSH.Port = n
	}
	if n := atoiEnv("SSH_TIMEOUT_SECONDS"); n > 0 {
		c.SSH.ConnectTimeout = time.Duration(n) * time.Second
	}
}

func (c *Config) normalize() {
	if c.SSH.Port == 0 {
		c.SSH.Port = 22
	}
	if c.SSH.PasswordEnv == "" {
		c.SSH.PasswordEnv = "BLAST_SSH_PASSWORD"
	}
	if c.SSH.ConnectTimeout <= 0 {
		c.SSH.ConnectTimeout = 5 * time.Second
	}
	if c.SSH.KeepAlive <= 0 {
		c.SSH.KeepAlive = 30 * time.Second
	}

	if c.Remote.WorkDir == "" {
		c.Remote.WorkDir = "/tmp/blast_runner"
	}
	c.Remote.WorkDir = strings.TrimRight(c.Remote.WorkDir, "/")
	if c.Remote.BlastBin == "" {
		c.Remote.BlastBin = "blastn"
	}
	if c.Remote.MakeBlastDB == "" {
		c.Remote.MakeBlastDB = "makeblastdb"
	}
	if c.Remote.MaxTargetSeqs <= 0 {
		c.Remote.MaxTargetSeqs = 10
	}
	if c.Remote.BuildTimeout <= 0 {
		c.Remote.BuildTimeout = 10 * time.Minute
	}
	if c.Remote.AlignTimeout <= 0 {
		c.Remote.AlignTimeout = 5 * time.Minute
	}
	if c.Remote.Databases == nil {
		c.Remote.Databases = map[string]string{}
	}

	if c.Local.OutputDir == "" {
		c.Local.OutputDir = defaultOutputDir()
	}

	if c.NCBI.BaseURL == "" {
		c.NCBI.BaseURL = "https://api.ncbi.nlm.nih.gov/datasets/v2/genome/taxon"
	}
	if c.NCBI.APIKeyEnv == "" {
		c.NCBI.APIKeyEnv = "NCBI_API_KEY"
	}

	if c.Health.Interval <= 0 {
		c.Health.Interval = 15 * time.Second
	}
}

// Password resolves the SSH secret from the environment or the password file.
func (s SSHConfig) Password() (string, error) {
	if v := os.Getenv(s.PasswordEnv); v != "" {
		return v, nil
	}
	if s.PasswordFile != "" {
		b, err := os.ReadFile(s.PasswordFile)
		if err != nil {
			return "", fmt.Errorf("read password file: %w", err)
		}
		if pw := strings.TrimSpace(string(b)); pw != "" {
			return pw, nil
		}
	}
	return "", fmt.Errorf("empty env var: %s", s.PasswordEnv)
}

// APIKey returns the NCBI key, or "" for the unauthenticated tier.
func (n NCBIConfig) APIKey() string {
	return strings.TrimSpace(os.Getenv(n.APIKeyEnv))
}

// ResolveDatabase maps a configured database name to its remote path
// prefix. Anything that is not a known name is taken as a path.
func (r RemoteConfig) ResolveDatabase(nameOrPath string) string {
	if p, ok := r.Databases[nameOrPath]; ok && p != "" {
		return p
	}
	return nameOrPath
}

// EnsureOutputDir creates dir, falling back to the per-user default when
// dir cannot be created.
func EnsureOutputDir(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err == nil {
		return dir, nil
	}
	fb := defaultOutputDir()
	if err := os.MkdirAll(fb, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	return fb, nil
}

func defaultOutputDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "blast-runner", "output")
	}
	return filepath.Join(home, "blast-runner", "output")
}

func getenv(k, fb string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return fb
}

func atoiEnv(k string) int {
	v := os.Getenv(k)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
