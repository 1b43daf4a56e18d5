package game

import (
	"testing"

	"crashpit/internal/fair"
)

func TestPlinkoPath_Deterministic(t *testing.T) {
	seed := fair.GenerateSeed()

	path1, slot1 := PlinkoPath(fair.NewStream(seed, "client", 9), 16)
	path2, slot2 := PlinkoPath(fair.NewStream(seed, "client", 9), 16)

	if slot1 != slot2 {
		t.Errorf("landing slots differ: %d vs %d", slot1, slot2)
	}
	for i := range path1 {
		if path1[i] != path2[i] {
			t.Errorf("decision %d differs: %d vs %d", i, path1[i], path2[i])
		}
	}
}

func TestPlinkoPath_SlotMatchesPath(t *testing.T) {
	seed := fair.GenerateSeed()

	for nonce := 1; nonce <= 50; nonce++ {
		path, slot := PlinkoPath(fair.NewStream(seed, "client", nonce), 16)

		if len(path) != 16 {
			t.Fatalf("path has %d decisions, want 16", len(path))
		}

		rights := 0
		for _, d := range path {
			if d != 0 && d != 1 {
				t.Fatalf("decision %d not binary", d)
			}
			if d == 1 {
				rights++
			}
		}

		if slot != rights {
			t.Errorf("landing slot %d does not match %d rights in path", slot, rights)
		}
		if slot < 0 || slot > 16 {
			t.Errorf("landing slot %d outside [0, 16]", slot)
		}
	}
}

func TestPlinkoMultiplier_Symmetric(t *testing.T) {
	for _, risk := range []PlinkoRisk{PlinkoRiskLow, PlinkoRiskMedium, PlinkoRiskHigh} {
		for slot := 0; slot <= 8; slot++ {
			left := PlinkoMultiplier(risk, slot, 16)
			right := PlinkoMultiplier(risk, 16-slot, 16)
			if left != right {
				t.Errorf("%s risk: slot %d pays %v but mirror slot %d pays %v",
					risk, slot, left, 16-slot, right)
			}
		}
	}
}

func TestPlinkoMultiplier_EdgesPayMost(t *testing.T) {
	for _, risk := range []PlinkoRisk{PlinkoRiskLow, PlinkoRiskMedium, PlinkoRiskHigh} {
		edge := PlinkoMultiplier(risk, 0, 16)
		center := PlinkoMultiplier(risk, 8, 16)
		if edge <= center {
			t.Errorf("%s risk: edge %v not above center %v", risk, edge, center)
		}
	}
}

func TestPlinkoMultiplier_UnknownRisk(t *testing.T) {
	if m := PlinkoMultiplier(PlinkoRisk("extreme"), 0, 16); m != 1.0 {
		t.Errorf("unknown risk returned %v, want 1.0", m)
	}
}

func TestPlinkoMultiplier_FewerRowsCompressExtremes(t *testing.T) {
	full := PlinkoMultiplier(PlinkoRiskHigh, 0, 16)
	compressed := PlinkoMultiplier(PlinkoRiskHigh, 0, 8)
	if compressed >= full {
		t.Errorf("8-row edge multiplier %v not below 16-row %v", compressed, full)
	}
}

func TestPlinkoEngine_GetType(t *testing.T) {
	engine := NewPlinkoEngine(nil, nil, nil)
	if engine.GetType() != GameTypePlinko {
		t.Errorf("GetType() = %v, want %v", engine.GetType(), GameTypePlinko)
	}
}

func BenchmarkPlinkoPath(b *testing.B) {
	seed := fair.GenerateSeed()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		PlinkoPath(fair.NewStream(seed, "client", i), 16)
	}
}
