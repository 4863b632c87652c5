// Package contracts holds the ABIs the engine talks to and a bounded cache of
// ABIs fetched from the relay.
package contracts

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ERC20ABI is the subset of ERC-20 used for transfers and balance reads.
const ERC20ABI = `[
  {"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"transferFrom","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"event","name":"Transfer","anonymous":false,"inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"value","type":"uint256","indexed":false}]}
]`

// DelegateABI is the view surface of the batch delegate contract. Calls are
// made against the delegating account, which runs the delegate's code.
const DelegateABI = `[
  {"type":"function","name":"nonce","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

var (
	erc20Once    sync.Once
	erc20ABI     abi.ABI
	delegateOnce sync.Once
	delegateABI  abi.ABI
)

// ERC20 returns the parsed ERC20ABI.
func ERC20() abi.ABI {
	erc20Once.Do(func() { erc20ABI = mustParse(ERC20ABI) })
	return erc20ABI
}

// Delegate returns the parsed DelegateABI.
func Delegate() abi.ABI {
	delegateOnce.Do(func() { delegateABI = mustParse(DelegateABI) })
	return delegateABI
}

func mustParse(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic("contracts: invalid built-in ABI: " + err.Error())
	}
	return parsed
}
