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
	"path/filepath"
	"testing"
)

func TestConfigFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pot.yaml")
	in := &Config{AllocationBudget: 1 << 20, Compatibility: CompatibilityV4}
	if err := in.WriteFile(path); err != nil {
		t.Fatal(err)
	}
	out, err := LoadConfigFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if out.AllocationBudget != in.AllocationBudget {
		t.Fatalf("got budget %d, want %d", out.AllocationBudget, in.AllocationBudget)
	}
	if out.Compatibility != CompatibilityV4 {
		t.Fatalf("got compatibility %v, want v4", out.Compatibility)
	}
}

func TestConfigFileDefaultsToFullCompatibility(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pot.yaml")
	if err := (&Config{AllocationBudget: 10}).WriteFile(path); err != nil {
		t.Fatal(err)
	}
	out, err := LoadConfigFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if out.Compatibility != CompatibilityFull {
		t.Fatalf("got compatibility %v, want full", out.Compatibility)
	}
}

func TestNilConfigOrDefault(t *testing.T) {
	var c *Config
	d := c.orDefault()
	if d == nil {
		t.Fatal("orDefault() of nil should not return nil")
	}
	if d.budget() != NoBudgetLimit {
		t.Fatalf("got budget %d, want NoBudgetLimit", d.budget())
	}
}

func TestConfigSymbolsNilFallsBackToEphemeral(t *testing.T) {
	c := &Config{}
	if _, ok := c.encoderSymbols().(*EphemeralSymbolTable); !ok {
		t.Fatal("expected ephemeral encoder symbols when Config.Symbols is unset")
	}
	if _, ok := c.decoderSymbols().(*ephemeralDecoderSymbols); !ok {
		t.Fatal("expected ephemeral decoder symbols when Config.Symbols is unset")
	}
}

func TestConfigUsesProvidedPersistentTable(t *testing.T) {
	tab := NewPersistentSymbolTable()
	c := &Config{Symbols: tab}
	if c.encoderSymbols() != EncoderSymbols(tab) {
		t.Fatal("expected Config to reuse the provided persistent table as encoder symbols")
	}
	if c.decoderSymbols() != DecoderSymbols(tab) {
		t.Fatal("expected Config to reuse the provided persistent table as decoder symbols")
	}
}

func TestConfigBudgetZeroMeansUnlimited(t *testing.T) {
	c := &Config{AllocationBudget: 0}
	if c.budget() != NoBudgetLimit {
		t.Fatalf("got %d, want NoBudgetLimit", c.budget())
	}
}

func TestConfigFilePersistsStrictVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pot.yaml")
	if err := (&Config{StrictVersion: true}).WriteFile(path); err != nil {
		t.Fatal(err)
	}
	out, err := LoadConfigFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !out.StrictVersion {
		t.Fatal("strictVersion was not round-tripped")
	}
}
