// Copyright 2024 The Mist Authors
// This file is part of the Mist library.

package params

import (
	"strings"
	"testing"
)

func TestDerivationMessageText(t *testing.T) {
	legacy := DerivationMessage{}
	if legacy.Text() != LegacyDerivationText {
		t.Errorf("Version 0 should render the legacy text, got %q", legacy.Text())
	}

	m := DefaultDerivationMessage(SepoliaPreset.ChainID)
	text := m.Text()
	for _, want := range []string{"Domain: mist", "Chain ID: 11155111", "Version: 1"} {
		if !strings.Contains(text, want) {
			t.Errorf("Derivation text missing %q", want)
		}
	}

	other := m
	other.ChainID = DevPreset.ChainID
	if other.Text() == text {
		t.Error("Derivation text does not depend on the chain")
	}
}

func TestPresetByName(t *testing.T) {
	p, err := PresetByName("sepolia")
	if err != nil || p != SepoliaPreset {
		t.Fatalf("Expected sepolia preset, got %v, %v", p, err)
	}
	if _, err := PresetByName("mainnet"); err == nil {
		t.Error("Expected error for unknown preset")
	}
}
