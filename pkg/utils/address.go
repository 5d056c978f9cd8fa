package utils

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// IsValidAddress checks if a string is a valid Ethereum address
func IsValidAddress(address string) bool {
	return common.IsHexAddress(address)
}

// NormalizeAddress returns the EIP-55 checksummed form of a hex address, the
// form contract addresses are recorded in
func NormalizeAddress(address string) string {
	return common.HexToAddress(strings.TrimSpace(address)).Hex()
}

// ParseAddresses converts hex strings into addresses, preserving order and
// dropping duplicates.
func ParseAddresses(raw []string) ([]common.Address, error) {
	seen := make(map[common.Address]struct{}, len(raw))
	addresses := make([]common.Address, 0, len(raw))

	for _, s := range raw {
		s = strings.TrimSpace(s)
		if !IsValidAddress(s) {
			return nil, NewAppError(ErrCodeValidation, "Invalid contract address", s)
		}
		addr := common.HexToAddress(s)
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		addresses = append(addresses, addr)
	}

	return addresses, nil
}

// FunctionSelector returns the 4-byte selector of a canonical function signature
func FunctionSelector(signature string) string {
	hash := crypto.Keccak256([]byte(signature))
	return "0x" + fmt.Sprintf("%x", hash[:4])
}

// FormatBlockNumber formats a block number for display
func FormatBlockNumber(blockNumber uint64) string {
	return fmt.Sprintf("0x%x", blockNumber)
}

// BlocksBehind reports how far cursor trails head, never less than zero.
// A cursor of -1 means nothing was crawled yet, so block 0 is still pending.
func BlocksBehind(head uint64, cursor int64) uint64 {
	if cursor < 0 {
		return head + 1
	}
	if uint64(cursor) >= head {
		return 0
	}
	return head - uint64(cursor)
}

// ParseBlockNumber parses a block number given in decimal or 0x-prefixed hex
func ParseBlockNumber(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}
