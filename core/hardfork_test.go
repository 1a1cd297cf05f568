package core

import "testing"

func TestHardforkOrdering(t *testing.T) {
	if !London.AtLeast(Berlin) {
		t.Error("london should be at least berlin")
	}
	if Berlin.AtLeast(London) {
		t.Error("berlin should not be at least london")
	}
	if !Cancun.AtLeast(Cancun) {
		t.Error("a fork should be at least itself")
	}
}

func TestHardforkPostMerge(t *testing.T) {
	tests := []struct {
		fork Hardfork
		want bool
	}{
		{Frontier, false},
		{GrayGlacier, false},
		{Merge, true},
		{Shanghai, true},
		{Osaka, true},
	}
	for _, tt := range tests {
		if got := tt.fork.IsPostMerge(); got != tt.want {
			t.Errorf("%s: IsPostMerge = %v, want %v", tt.fork, got, tt.want)
		}
	}
}

func TestParseHardforkRoundTrip(t *testing.T) {
	for f := Frontier; f <= Osaka; f++ {
		parsed, err := ParseHardfork(f.String())
		if err != nil {
			t.Fatalf("%s: %v", f, err)
		}
		if parsed != f {
			t.Errorf("round trip: got %s, want %s", parsed, f)
		}
	}
	if _, err := ParseHardfork("atlantis"); err == nil {
		t.Error("unknown fork name accepted")
	}
}

func TestMainnetHardforkHistory(t *testing.T) {
	history := MainnetHardforkHistory()

	tests := []struct {
		number    uint64
		timestamp uint64
		want      Hardfork
	}{
		{0, 0, Frontier},
		{1_150_000, 0, Homestead},
		{12_964_999, 0, Berlin},
		{12_965_000, 0, London},
		{15_537_394, 1_663_224_162, Merge},
		{17_034_870, 1_681_338_455, Shanghai},
		{19_426_587, 1_710_338_135, Cancun},
	}
	for _, tt := range tests {
		if got := history.ForkAt(tt.number, tt.timestamp); got != tt.want {
			t.Errorf("block %d: got %s, want %s", tt.number, got, tt.want)
		}
	}
}

func TestChainConfigForkAt(t *testing.T) {
	cfg := &ChainConfig{ChainID: DevChainID, Hardfork: Prague}
	if got := cfg.ForkAt(123, 456); got != Prague {
		t.Errorf("without history: got %s, want prague", got)
	}

	cfg.History = MainnetHardforkHistory()
	if got := cfg.ForkAt(0, 0); got != Frontier {
		t.Errorf("with history: got %s, want frontier", got)
	}
}
