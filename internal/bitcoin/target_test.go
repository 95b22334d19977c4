package bitcoin

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

func TestTargetFromCompact(t *testing.T) {
	tests := []struct {
		name string
		bits uint32
		want Target
	}{
		{"difficulty one", 0x1d00ffff, MaxTarget},
		{"regtest", 0x207fffff, Target{0: 0x7f, 1: 0xff, 2: 0xff}},
		{"zero", 0, Target{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TargetFromCompact(tt.bits)
			if got != tt.want {
				t.Errorf("TargetFromCompact(%08x) = %s, want %s", tt.bits, got, tt.want)
			}
			if tt.bits != 0 && got.Compact() != tt.bits {
				t.Errorf("Compact() = %08x, want %08x", got.Compact(), tt.bits)
			}
		})
	}
}

func TestTargetFromDifficulty(t *testing.T) {
	tests := []struct {
		name       string
		difficulty float64
		want       Target
	}{
		{"difficulty 1", 1, MaxTarget},
		{"difficulty 2", 2, Target{4: 0x7f, 5: 0xff, 6: 0x80}},
		{"zero difficulty", 0, MaxTarget},
		{"negative difficulty", -3, MaxTarget},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TargetFromDifficulty(tt.difficulty); got != tt.want {
				t.Errorf("TargetFromDifficulty(%v) = %s, want %s", tt.difficulty, got, tt.want)
			}
		})
	}

	if d := TargetFromDifficulty(1024).Difficulty(); d < 1023.99 || d > 1024.01 {
		t.Errorf("Difficulty() round trip = %v", d)
	}
}

func TestMeetsTarget(t *testing.T) {
	genesis := chaincfg.MainNetParams.GenesisHash
	low := chainhash.Hash{0: 0x01}
	high := chainhash.Hash{31: 0x01}

	tests := []struct {
		name   string
		target Target
		hash   *chainhash.Hash
		want   bool
	}{
		{"genesis meets its bits", TargetFromCompact(0x1d00ffff), genesis, true},
		{"genesis misses harder target", TargetFromCompact(0x1a00ffff), genesis, false},
		{"low hash meets tiny target", Target{31: 0x01}, &low, true},
		{"high hash misses", Target{31: 0xff}, &high, false},
		{"equal is enough", Target{0: 0x01}, &high, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.target.MeetsTarget(tt.hash); got != tt.want {
				t.Errorf("MeetsTarget() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Target
		wantErr bool
	}{
		{"full", "00000000ffff0000000000000000000000000000000000000000000000000000", MaxTarget, false},
		{"short is padded", "ff", Target{31: 0xff}, false},
		{"empty", "", Target{}, true},
		{"odd length", "abc", Target{}, true},
		{"bad hex", "zz", Target{}, true},
		{"too long", "00000000000000000000000000000000000000000000000000000000000000000000", Target{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTarget(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTarget() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseTarget() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestTargetLess(t *testing.T) {
	if !TargetFromDifficulty(2).Less(MaxTarget) {
		t.Error("difficulty 2 should be harder than difficulty 1")
	}
	if MaxTarget.Less(MaxTarget) {
		t.Error("a target is not less than itself")
	}
}
