package contractCaller

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const PoolDeployerAbi = `[
	{"type":"event","name":"PoolCreated","anonymous":false,"inputs":[
		{"name":"pool","type":"address","indexed":true},
		{"name":"creator","type":"address","indexed":true}
	]},
	{"type":"function","name":"getAllPools","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"}]}
]`

const PoolAbi = `[
	{"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"creator","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"startTime","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"duration","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"slotFee","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"slotLimit","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"winnersCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"maxSlotsPerAddress","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"state","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"isPrized","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"isCollabPool","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"holderTokenAddress","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"nativePrizeAmount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"erc20PrizeToken","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"erc20PrizeAmount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"prizeCollection","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"prizeTokenId","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"prizeStandard","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"slotsSold","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"SlotsPurchased","anonymous":false,"inputs":[
		{"name":"participant","type":"address","indexed":true},
		{"name":"quantity","type":"uint256","indexed":false},
		{"name":"amountPaid","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"RefundClaimed","anonymous":false,"inputs":[
		{"name":"participant","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"PrizeClaimed","anonymous":false,"inputs":[
		{"name":"winner","type":"address","indexed":true},
		{"name":"winnerIndex","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"RandomnessRequested","anonymous":false,"inputs":[
		{"name":"requestId","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"WinnersSelected","anonymous":false,"inputs":[
		{"name":"winners","type":"address[]","indexed":false}
	]}
]`

const CollectionAbi = `[
	{"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"owner","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"baseURI","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"unrevealedBaseURI","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"contractURI","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"isRevealed","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"maxSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

const Erc20Abi = `[
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

func mustParseAbi(raw string) *abi.ABI {
	a, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return &a
}

var (
	PoolDeployer = mustParseAbi(PoolDeployerAbi)
	Pool         = mustParseAbi(PoolAbi)
	Collection   = mustParseAbi(CollectionAbi)
	Erc20        = mustParseAbi(Erc20Abi)
)
