// Package config loads the HCL document describing a target's driver
// bindings, aliases, and storage path policy, the way the teacher's
// taskenv package builds its environment from an HCL evaluation
// context (client/taskenv/env_test.go exercises the same
// hashicorp/hcl/v2 + gohcl stack used here, against a different
// schema).
package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/flashcore/flashcore/flash"
)

func parseDuration(s string) (time.Duration, error) {
	return time.ParseDuration(s)
}

// rootConfig is the top-level HCL document: one block per target.
type rootConfig struct {
	Targets []targetConfig `hcl:"target,block"`
}

type targetConfig struct {
	Name        string         `hcl:"name,label"`
	StorageRoot string         `hcl:"storage_root,optional"`
	Whitelist   map[string]string `hcl:"whitelist,optional"`
	Images      []imageConfig  `hcl:"image,block"`
	Aliases     []aliasConfig  `hcl:"alias,block"`
}

type imageConfig struct {
	Name             string   `hcl:"name,label"`
	Driver           string   `hcl:"driver"`
	Parallel         bool     `hcl:"parallel,optional"`
	EstimatedDuration string  `hcl:"estimated_duration,optional"`
	CheckPeriod      string   `hcl:"check_period,optional"`
	Retries          int      `hcl:"retries,optional"`
	ConsolesDisable  []string `hcl:"consoles_disable,optional"`
	LogName          string   `hcl:"log_name,optional"`

	// Remain holds the driver-specific nested block (e.g. "shellcmd
	// { ... }"), decoded by the DriverFactory registered for Driver.
	Remain hcl.Body `hcl:",remain"`
}

type aliasConfig struct {
	Name   string `hcl:"name,label"`
	Target string `hcl:"target"`
}

// TargetSetup is one target's fully decoded binding set, ready to
// populate a *flash.Registry and a flash.PathPolicy.
type TargetSetup struct {
	Name        string
	StorageRoot string
	Whitelist   map[string]string
	Registry    *flash.Registry
}

// DriverFactory builds a driver from its metadata and its
// driver-specific HCL block. Registered per driver type name (e.g.
// "shellcmd") before calling Load.
type DriverFactory func(meta flash.Metadata, body hcl.Body) (flash.Driver, error)

// Load parses path and builds one TargetSetup per "target" block,
// using factories to construct the concrete driver for each "image"
// block's configured driver type.
func Load(path string, factories map[string]DriverFactory) (map[string]*TargetSetup, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parsing %q: %w", path, diags)
	}

	var root rootConfig
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return nil, fmt.Errorf("decoding %q: %w", path, diags)
	}

	out := make(map[string]*TargetSetup, len(root.Targets))
	for _, tc := range root.Targets {
		reg := flash.NewRegistry()

		for _, ic := range tc.Images {
			factory, ok := factories[ic.Driver]
			if !ok {
				return nil, fmt.Errorf("target %q, image %q: unknown driver type %q", tc.Name, ic.Name, ic.Driver)
			}
			meta, err := toMetadata(ic)
			if err != nil {
				return nil, fmt.Errorf("target %q, image %q: %w", tc.Name, ic.Name, err)
			}
			driver, err := factory(meta, ic.Remain)
			if err != nil {
				return nil, fmt.Errorf("target %q, image %q: building driver: %w", tc.Name, ic.Name, err)
			}
			reg.Register(flash.ImageType(ic.Name), driver)
		}

		for _, ac := range tc.Aliases {
			reg.Alias(flash.ImageType(ac.Name), flash.ImageType(ac.Target))
		}

		out[tc.Name] = &TargetSetup{
			Name:        tc.Name,
			StorageRoot: tc.StorageRoot,
			Whitelist:   tc.Whitelist,
			Registry:    reg,
		}
	}
	return out, nil
}

func toMetadata(ic imageConfig) (flash.Metadata, error) {
	meta := flash.Metadata{
		Parallel:        ic.Parallel,
		Retries:         ic.Retries,
		ConsolesDisable: ic.ConsolesDisable,
		LogName:         ic.LogName,
	}
	if ic.EstimatedDuration != "" {
		d, err := parseDuration(ic.EstimatedDuration)
		if err != nil {
			return meta, fmt.Errorf("estimated_duration: %w", err)
		}
		meta.EstimatedDuration = d
	}
	if ic.CheckPeriod != "" {
		d, err := parseDuration(ic.CheckPeriod)
		if err != nil {
			return meta, fmt.Errorf("check_period: %w", err)
		}
		meta.CheckPeriod = d
	}
	return meta, nil
}
