package provider

import (
	"fmt"
	"strings"

	"github.com/NomicFoundation/edr-sub001/abi"
	"github.com/NomicFoundation/edr-sub001/core/types"
)

// consoleSignatures maps the common console.log selectors to their argument
// types. Unknown selectors fall back to a hex dump.
var consoleSignatures = map[[4]byte][]abi.Parameter{}

func init() {
	for _, sig := range []string{
		"log(string)",
		"log(uint256)",
		"log(int256)",
		"log(bool)",
		"log(address)",
		"log(bytes)",
		"log(bytes32)",
		"log(string,string)",
		"log(string,uint256)",
		"log(string,address)",
		"log(string,bool)",
		"log(uint256,uint256)",
		"log(string,uint256,uint256)",
		"log(string,string,string)",
	} {
		inner := sig[len("log(") : len(sig)-1]
		var params []abi.Parameter
		if inner != "" {
			for _, name := range strings.Split(inner, ",") {
				params = append(params, abi.Parameter{Type: abi.MustType(name)})
			}
		}
		consoleSignatures[abi.Selector(sig)] = params
	}
}

// decodeConsoleLog renders one console.log calldata payload as text.
func decodeConsoleLog(data []byte) string {
	if len(data) < 4 {
		return fmt.Sprintf("0x%x", data)
	}
	var sel [4]byte
	copy(sel[:], data)
	params, ok := consoleSignatures[sel]
	if !ok {
		return fmt.Sprintf("0x%x", data)
	}
	values, err := abi.DecodeArgs(params, data[4:])
	if err != nil {
		return fmt.Sprintf("0x%x", data)
	}
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, formatConsoleValue(v))
	}
	return strings.Join(parts, " ")
}

func formatConsoleValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return fmt.Sprintf("0x%x", val)
	case types.Hash:
		return val.Hex()
	case types.Address:
		return val.Hex()
	default:
		return fmt.Sprintf("%v", val)
	}
}
