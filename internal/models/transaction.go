package models

import "github.com/ethereum/go-ethereum/common"

// Transaction is the subset of a ledger transaction the crawler consumes
type Transaction struct {
	Hash        common.Hash    `json:"hash"`
	From        common.Address `json:"from"`
	To          common.Address `json:"to"`
	Data        []byte         `json:"data"`
	BlockNumber uint64         `json:"block_number"`
}
