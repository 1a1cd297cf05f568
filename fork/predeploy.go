package fork

import (
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/NomicFoundation/edr-sub001/core"
	"github.com/NomicFoundation/edr-sub001/core/types"
	"github.com/NomicFoundation/edr-sub001/state"
)

// Canonical system-contract addresses.
var (
	// BeaconRootsAddress holds the EIP-4788 beacon block root contract.
	BeaconRootsAddress = types.HexToAddress("0x000F3df6D732807Ef1319fB7B8bB8522d0Beac02")

	// HistoryStorageAddress holds the EIP-2935 block hash history contract.
	HistoryStorageAddress = types.HexToAddress("0x0000F90827F1C53a10cb7A02335B175320002935")
)

// Deployed runtime bytecode of the system contracts, as specified by their
// EIPs.
var (
	beaconRootsCode = hexutil.MustDecode("0x3373fffffffffffffffffffffffffffffffffffffffe14604d57602036146024575f5ffd5b5f35801560495762001fff810690815414603c575f5ffd5b62001fff01545f5260205ff35b5f5ffd5b62001fff42064281555f359062001fff015500")

	historyStorageCode = hexutil.MustDecode("0x3373fffffffffffffffffffffffffffffffffffffffe14604657602036036042575f35600143038111604257611fff81430311604257611fff9006545f5260205ff35b5f5ffd5b5f35611fff60014303065500")
)

// predeployOverride synthesizes a state override installing the system
// contracts the remote chain predates. Returns nil when the local fork does
// not need them or the remote chain already has them.
func predeployOverride(local, remoteFork core.Hardfork, forkBlockNumber uint64) *types.StateOverride {
	accounts := make(map[types.Address]types.AccountOverride)
	if local.AtLeast(core.Cancun) && !remoteFork.AtLeast(core.Cancun) {
		accounts[BeaconRootsAddress] = types.AccountOverride{Code: beaconRootsCode}
	}
	if local.AtLeast(core.Prague) && !remoteFork.AtLeast(core.Prague) {
		accounts[HistoryStorageAddress] = types.AccountOverride{Code: historyStorageCode}
	}
	if len(accounts) == 0 {
		return nil
	}

	// The override invalidates the remote trie, so the root is synthetic.
	root := state.NewRandomHashGenerator("predeploy").Next()
	override := types.NewStateOverride(forkBlockNumber, root)
	override.Accounts = accounts
	return override
}
