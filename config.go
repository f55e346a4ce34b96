// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package pot

import (
	"os"

	"sigs.k8s.io/yaml"
)

// CompatibilityMode selects between the two wire conventions for unit
// enum variants.
type CompatibilityMode int

const (
	// CompatibilityFull is the default: a unit variant writes nothing
	// after its Special(Named)+Symbol marker.
	CompatibilityFull CompatibilityMode = iota
	// CompatibilityV4 writes an explicit empty Map(0) after a unit
	// variant's marker, so a schema-less reader (ReadValue) can tell a
	// unit variant apart from a newtype variant without a schema.
	CompatibilityV4
)

func (m CompatibilityMode) String() string {
	if m == CompatibilityV4 {
		return "v4"
	}
	return "full"
}

// Config bundles the knobs that vary across Encode/Decode calls:
// which symbol table to use, the allocation budget, and the
// compatibility mode. The zero Config is the all-defaults
// configuration (ephemeral symbol table, no budget, Full
// compatibility).
type Config struct {
	// Symbols, if non-nil, is reused across this and subsequent
	// Encode/Decode calls instead of starting a fresh per-payload
	// table. Pass the same *PersistentSymbolTable to both sides of a
	// long-lived connection to get the benefit of cross-payload
	// symbol reuse.
	Symbols *PersistentSymbolTable

	// AllocationBudget caps the number of payload bytes (Bytes
	// contents, numeric widths) a single Decode call will read before
	// failing with KindTooManyBytesRead. Zero means no limit.
	AllocationBudget uint64

	Compatibility CompatibilityMode

	// StrictVersion requires the payload's version byte to equal
	// CurrentVersion exactly, instead of the default rule of accepting
	// anything up to it.
	StrictVersion bool
}

// configFile is the YAML-serializable projection of Config; Symbols is
// excluded since a live symbol table is not representable as
// configuration data.
type configFile struct {
	AllocationBudget uint64 `json:"allocationBudget"`
	Compatibility    string `json:"compatibility"`
	StrictVersion    bool   `json:"strictVersion"`
}

// LoadConfigFile reads the YAML representation of a Config from path,
// so an embedding service can keep the codec's knobs alongside the
// rest of its configuration.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, wrapError(KindIO, err, "reading config %s", path)
	}
	var cf configFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, wrapError(KindCustom, err, "parsing config %s", path)
	}
	cfg := &Config{AllocationBudget: cf.AllocationBudget, StrictVersion: cf.StrictVersion}
	if cf.Compatibility == "v4" {
		cfg.Compatibility = CompatibilityV4
	}
	return cfg, nil
}

// WriteFile writes cfg's file-representable fields to path as YAML.
func (c *Config) WriteFile(path string) error {
	cf := configFile{
		AllocationBudget: c.AllocationBudget,
		Compatibility:    c.Compatibility.String(),
		StrictVersion:    c.StrictVersion,
	}
	data, err := yaml.Marshal(&cf)
	if err != nil {
		return wrapError(KindCustom, err, "encoding config")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return wrapError(KindIO, err, "writing config %s", path)
	}
	return nil
}

// orDefault returns c, or a fresh zero-value Config if c is nil, so
// every call site can treat a nil *Config as "use the defaults"
// without a nil check of its own.
func (c *Config) orDefault() *Config {
	if c == nil {
		return &Config{}
	}
	return c
}

func (c *Config) encoderSymbols() EncoderSymbols {
	if c.Symbols != nil {
		return c.Symbols
	}
	return NewEphemeralSymbolTable()
}

func (c *Config) decoderSymbols() DecoderSymbols {
	if c.Symbols != nil {
		return c.Symbols
	}
	return &ephemeralDecoderSymbols{}
}

func (c *Config) budget() uint64 {
	if c.AllocationBudget == 0 {
		return NoBudgetLimit
	}
	return c.AllocationBudget
}
