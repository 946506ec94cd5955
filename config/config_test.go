package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveThenLoadRoundTrips(t *testing.T) {
	c := GenerateDefault()
	c.InstanceCount = 4
	c.OptLevel = OptAggressive
	c.TargetOptions = "cpu=native"
	c.EnableIRDump = true

	path := filepath.Join(t.TempDir(), FileName)
	if err := c.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if *loaded != *c {
		t.Fatalf("loaded = %+v, want %+v", *loaded, *c)
	}
}

func TestLoadRejectsInvalidOptLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	body := "instance_count = 1\nopt_level = \"extreme\"\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected Load to reject an unrecognised opt_level")
	}
}

func TestLoadRejectsNonPositiveInstanceCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	body := "instance_count = 0\nopt_level = \"none\"\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected Load to reject a non-positive instance_count")
	}
}

func TestGenerateDefaultValidates(t *testing.T) {
	if err := GenerateDefault().Validate(); err != nil {
		t.Fatalf("default config failed validation: %v", err)
	}
}
