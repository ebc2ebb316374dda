package config_test

import (
	"os"
	"testing"

	"gateline/internal/config"
	"gateline/internal/domain"
)

func TestFromYAMLValid(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
project:
  name: Treehouse
  type: physical
  owner: sam
gates:
  descriptions:
    DESIGN_APPROVED: Blueprint signed off by the family
server:
  base_path: /v0
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.ProjectType() != domain.ProjectPhysical {
		t.Fatalf("type = %s", cfg.ProjectType())
	}
	if cfg.Gates.Descriptions["DESIGN_APPROVED"] == "" {
		t.Fatal("description override missing")
	}
}

func TestValidateRequiredFields(t *testing.T) {
	cases := []string{
		"project:\n  owner: sam\n",
		"project:\n  name: x\n",
		"project:\n  name: x\n  owner: sam\n  type: garden\n",
	}
	for _, in := range cases {
		if _, err := config.FromYAML([]byte(in)); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

func TestProjectTypeDefaultsToSoftware(t *testing.T) {
	cfg, err := config.FromYAML([]byte("project:\n  name: x\n  owner: sam\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ProjectType() != domain.ProjectSoftware {
		t.Fatalf("type = %s", cfg.ProjectType())
	}
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	raw := config.GenerateDefault("Treehouse", "physical", "sam")
	cfg, err := config.FromYAML([]byte(raw))
	if err != nil {
		t.Fatalf("generated config invalid: %v", err)
	}
	if cfg.Project.Name != "Treehouse" || cfg.Project.Owner != "sam" {
		t.Fatalf("project = %+v", cfg.Project)
	}
}

func TestLoadOptionalMissingFile(t *testing.T) {
	cfg, err := config.LoadOptional(t.TempDir())
	if err != nil || cfg != nil {
		t.Fatalf("got %v, %v", cfg, err)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := config.Load(t.TempDir()); err == nil {
		t.Fatal("expected error for missing config")
	}
}

func TestLoadReadsWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(config.Path(dir), []byte("project:\n  name: x\n  owner: sam\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Project.Name != "x" {
		t.Fatalf("name = %q", cfg.Project.Name)
	}
}
