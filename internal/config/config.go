package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"gateline/internal/domain"
)

// Config models gateline.yml.
type Config struct {
	Project struct {
		Name        string `yaml:"name"`
		Type        string `yaml:"type"`
		Owner       string `yaml:"owner"`
		Description string `yaml:"description"`
		Repository  string `yaml:"repository"`
	} `yaml:"project"`
	Gates struct {
		// Descriptions overrides the built-in description table per gate name.
		Descriptions map[string]string `yaml:"descriptions"`
	} `yaml:"gates"`
	Server struct {
		JWTSecret              string `yaml:"jwt_secret"`
		BasePath               string `yaml:"base_path"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
	} `yaml:"server"`
}

var knownTypes = map[string]bool{
	string(domain.ProjectSoftware):       true,
	string(domain.ProjectPhysical):       true,
	string(domain.ProjectDocumentation):  true,
	string(domain.ProjectInfrastructure): true,
}

// Validate ensures the config meets required structure. The project type is
// validated strictly here even though the gate registry itself falls back to
// the software template for unknown types.
func (c *Config) Validate() error {
	if c.Project.Name == "" {
		return fmt.Errorf("config.project.name is required")
	}
	if c.Project.Owner == "" {
		return fmt.Errorf("config.project.owner is required")
	}
	if c.Project.Type != "" && !knownTypes[c.Project.Type] {
		return fmt.Errorf("config.project.type must be one of software, physical, documentation, infrastructure")
	}
	for name, desc := range c.Gates.Descriptions {
		if name == "" {
			return fmt.Errorf("config.gates.descriptions contains empty gate name")
		}
		if desc == "" {
			return fmt.Errorf("config.gates.descriptions.%s is empty", name)
		}
	}
	return nil
}

// ProjectType returns the configured type, defaulting to software.
func (c *Config) ProjectType() domain.ProjectType {
	if c.Project.Type == "" {
		return domain.ProjectSoftware
	}
	return domain.ProjectType(c.Project.Type)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "gateline.yml")
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run gl init first", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the default Config for a project name.
func Default(name, owner string) *Config {
	var cfg Config
	cfg.Project.Name = name
	cfg.Project.Type = string(domain.ProjectSoftware)
	cfg.Project.Owner = owner
	cfg.Server.BasePath = "/v0"
	return &cfg
}

// GenerateDefault returns default config YAML for gl init.
func GenerateDefault(name, projectType, owner string) string {
	return fmt.Sprintf(defaultTemplate, name, projectType, owner)
}

const defaultTemplate = `project:
  name: %s
  type: %s
  owner: %s

gates:
  descriptions: {}

server:
  base_path: /v0
  allow_legacy_actor_header: false
`
