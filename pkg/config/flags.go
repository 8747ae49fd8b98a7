package config

import (
	"fmt"
	"io"

	"github.com/xplshn/rtlc/pkg/cli"
)

// SetupFlagGroups registers one -W/-Wno- pair per warning and one -F/-Fno-
// pair per feature. The returned entries are indexed by Warning and Feature.
func (c *Config) SetupFlagGroups(fs *cli.FlagSet) ([]cli.FlagGroupEntry, []cli.FlagGroupEntry) {
	var warningFlags, featureFlags []cli.FlagGroupEntry

	for i := Warning(0); i < WarnCount; i++ {
		pEnable, pDisable := new(bool), new(bool)
		info := c.Warnings[i]
		warningFlags = append(warningFlags, cli.FlagGroupEntry{
			Name:     info.Name,
			Prefix:   "W",
			Usage:    info.Description,
			Default:  info.Enabled,
			Enabled:  pEnable,
			Disabled: pDisable,
		})
	}
	for i := Feature(0); i < FeatCount; i++ {
		pEnable, pDisable := new(bool), new(bool)
		info := c.Features[i]
		featureFlags = append(featureFlags, cli.FlagGroupEntry{
			Name:     info.Name,
			Prefix:   "F",
			Usage:    info.Description,
			Default:  info.Enabled,
			Enabled:  pEnable,
			Disabled: pDisable,
		})
	}

	fs.AddFlagGroup("Warning Flags", "Enable or disable specific warnings", "warning flag", "Available Warnings:", warningFlags)
	fs.AddFlagGroup("Feature Flags", "Enable or disable design and simulation features", "feature flag", "Available Features:", featureFlags)
	return warningFlags, featureFlags
}

// ApplyFlagGroups copies the parsed group flags into c; explicit flags
// override the profile.
func (c *Config) ApplyFlagGroups(warningFlags, featureFlags []cli.FlagGroupEntry) {
	for i, entry := range warningFlags {
		if entry.Enabled != nil && *entry.Enabled { c.SetWarning(Warning(i), true) }
		if entry.Disabled != nil && *entry.Disabled { c.SetWarning(Warning(i), false) }
	}
	for i, entry := range featureFlags {
		if entry.Enabled != nil && *entry.Enabled { c.SetFeature(Feature(i), true) }
		if entry.Disabled != nil && *entry.Disabled { c.SetFeature(Feature(i), false) }
	}
}

// Clone returns an independent copy, so that per-design directive flags do
// not leak into other designs.
func (c *Config) Clone() *Config {
	n := *c
	n.Features = make(map[Feature]Info, len(c.Features))
	n.Warnings = make(map[Warning]Info, len(c.Warnings))
	n.FeatureMap = make(map[string]Feature, len(c.FeatureMap))
	n.WarningMap = make(map[string]Warning, len(c.WarningMap))
	for k, v := range c.Features {
		n.Features[k] = v
	}
	for k, v := range c.Warnings {
		n.Warnings[k] = v
	}
	for k, v := range c.FeatureMap {
		n.FeatureMap[k] = v
	}
	for k, v := range c.WarningMap {
		n.WarningMap[k] = v
	}
	return &n
}

func (c *Config) PrintFeatures(w io.Writer) {
	for i := Feature(0); i < FeatCount; i++ {
		info := c.Features[i]
		fmt.Fprintf(w, "  - %-20s: %v (%s)\n", info.Name, info.Enabled, info.Description)
	}
}

func (c *Config) PrintWarnings(w io.Writer) {
	for i := Warning(0); i < WarnCount; i++ {
		info := c.Warnings[i]
		fmt.Fprintf(w, "  - %-20s: %v (%s)\n", info.Name, info.Enabled, info.Description)
	}
}
