// Package core implements the block-building pipeline: hardfork ordering,
// EIP-1559 base fee, ethash difficulty, blob gas schedules and header
// construction.
package core

import "fmt"

// Hardfork is a totally-ordered identifier for an Ethereum protocol version,
// following the mainnet fork sequence. The fork schedule is data, not types:
// every layer compares Hardfork values instead of threading fork-specific
// generics through.
type Hardfork int

const (
	Frontier Hardfork = iota
	FrontierThawing
	Homestead
	DAOFork
	Tangerine
	SpuriousDragon
	Byzantium
	Constantinople
	Petersburg
	Istanbul
	MuirGlacier
	Berlin
	London
	ArrowGlacier
	GrayGlacier
	Merge
	Shanghai
	Cancun
	Prague
	Osaka
)

var hardforkNames = map[Hardfork]string{
	Frontier:        "frontier",
	FrontierThawing: "frontierThawing",
	Homestead:       "homestead",
	DAOFork:         "dao",
	Tangerine:       "tangerine",
	SpuriousDragon:  "spuriousDragon",
	Byzantium:       "byzantium",
	Constantinople:  "constantinople",
	Petersburg:      "petersburg",
	Istanbul:        "istanbul",
	MuirGlacier:     "muirGlacier",
	Berlin:          "berlin",
	London:          "london",
	ArrowGlacier:    "arrowGlacier",
	GrayGlacier:     "grayGlacier",
	Merge:           "merge",
	Shanghai:        "shanghai",
	Cancun:          "cancun",
	Prague:          "prague",
	Osaka:           "osaka",
}

// String returns the lowercase fork name.
func (h Hardfork) String() string {
	if name, ok := hardforkNames[h]; ok {
		return name
	}
	return fmt.Sprintf("hardfork(%d)", int(h))
}

// ParseHardfork resolves a fork name to its identifier.
func ParseHardfork(name string) (Hardfork, error) {
	for h, n := range hardforkNames {
		if n == name {
			return h, nil
		}
	}
	return 0, fmt.Errorf("unknown hardfork %q", name)
}

// AtLeast reports whether h is the given fork or later.
func (h Hardfork) AtLeast(other Hardfork) bool { return h >= other }

// IsPostMerge reports whether proof-of-stake rules apply.
func (h Hardfork) IsPostMerge() bool { return h >= Merge }

// HardforkActivation marks the activation point of a fork, by block number
// or by timestamp.
type HardforkActivation struct {
	Fork      Hardfork
	Block     *uint64
	Timestamp *uint64
}

// HardforkHistory is the time-ordered activation history of a chain, used by
// forked blockchains to answer "which fork was active at block N".
type HardforkHistory struct {
	activations []HardforkActivation
}

// NewHardforkHistory creates a history from activations ordered oldest
// first.
func NewHardforkHistory(activations []HardforkActivation) *HardforkHistory {
	return &HardforkHistory{activations: activations}
}

// ForkAt returns the latest fork active at the given block number and
// timestamp, defaulting to Frontier.
func (hh *HardforkHistory) ForkAt(blockNumber, timestamp uint64) Hardfork {
	active := Frontier
	for _, a := range hh.activations {
		switch {
		case a.Block != nil:
			if *a.Block <= blockNumber && a.Fork > active {
				active = a.Fork
			}
		case a.Timestamp != nil:
			if *a.Timestamp <= timestamp && a.Fork > active {
				active = a.Fork
			}
		}
	}
	return active
}

// mainnetActivations is the Ethereum mainnet fork schedule.
var mainnetActivations = []HardforkActivation{
	{Fork: Frontier, Block: newUint64(0)},
	{Fork: Homestead, Block: newUint64(1_150_000)},
	{Fork: DAOFork, Block: newUint64(1_920_000)},
	{Fork: Tangerine, Block: newUint64(2_463_000)},
	{Fork: SpuriousDragon, Block: newUint64(2_675_000)},
	{Fork: Byzantium, Block: newUint64(4_370_000)},
	{Fork: Constantinople, Block: newUint64(7_280_000)},
	{Fork: Petersburg, Block: newUint64(7_280_000)},
	{Fork: Istanbul, Block: newUint64(9_069_000)},
	{Fork: MuirGlacier, Block: newUint64(9_200_000)},
	{Fork: Berlin, Block: newUint64(12_244_000)},
	{Fork: London, Block: newUint64(12_965_000)},
	{Fork: ArrowGlacier, Block: newUint64(13_773_000)},
	{Fork: GrayGlacier, Block: newUint64(15_050_000)},
	{Fork: Merge, Block: newUint64(15_537_394)},
	{Fork: Shanghai, Timestamp: newUint64(1_681_338_455)},
	{Fork: Cancun, Timestamp: newUint64(1_710_338_135)},
	{Fork: Prague, Timestamp: newUint64(1_746_612_311)},
}

// MainnetHardforkHistory returns the mainnet activation history.
func MainnetHardforkHistory() *HardforkHistory {
	return NewHardforkHistory(mainnetActivations)
}

func newUint64(v uint64) *uint64 { return &v }
