package chain

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// weiDecimals is the base-unit precision of native value on EVM relays
const weiDecimals = 18

// ResolveAddress accepts a 0x address or a Hedera shard.realm.num id and returns
// the EVM address; Hedera ids map to their long-zero alias.
func ResolveAddress(destination string) (common.Address, error) {
	destination = strings.TrimSpace(destination)
	if common.IsHexAddress(destination) {
		return common.HexToAddress(destination), nil
	}

	parts := strings.Split(destination, ".")
	if len(parts) != 3 {
		return common.Address{}, fmt.Errorf("unsupported destination account %q", destination)
	}
	shard, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid shard in %q: %w", destination, err)
	}
	realm, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid realm in %q: %w", destination, err)
	}
	num, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid account number in %q: %w", destination, err)
	}

	var addr common.Address
	binary.BigEndian.PutUint32(addr[0:4], uint32(shard))
	binary.BigEndian.PutUint64(addr[4:12], realm)
	binary.BigEndian.PutUint64(addr[12:20], num)
	return addr, nil
}

// ToWei converts a token amount to 18-decimal base units, rejecting fractions below one wei
func ToWei(amount decimal.Decimal) (*big.Int, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("transfer amount must be positive, got %s", amount)
	}
	shifted := amount.Shift(weiDecimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("transfer amount %s has more than %d decimals", amount, weiDecimals)
	}
	return shifted.BigInt(), nil
}
