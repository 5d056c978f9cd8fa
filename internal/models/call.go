package models

import "strings"

// NoBlock is the cursor value of a crawl that has not registered anything yet
const NoBlock int64 = -1

// ContractFunctionCall is one decoded call made to a watched contract
type ContractFunctionCall struct {
	BlockNumber     uint64                 `json:"block_number" db:"block_number"`
	BlockTimestamp  uint64                 `json:"block_timestamp" db:"block_timestamp"`
	TransactionHash string                 `json:"transaction_hash" db:"transaction_hash"`
	ContractAddress string                 `json:"contract_address" db:"contract_address"`
	CallerAddress   string                 `json:"caller_address" db:"caller_address"`
	FunctionName    string                 `json:"function_name" db:"function_name"`
	FunctionArgs    map[string]interface{} `json:"function_args" db:"function_args"`
}

// CallFilter for querying stored calls
type CallFilter struct {
	ContractAddress *string `json:"contract_address,omitempty"`
	FunctionName    *string `json:"function_name,omitempty"`
	FromBlock       *uint64 `json:"from_block,omitempty"`
	ToBlock         *uint64 `json:"to_block,omitempty"`
	Limit           int     `json:"limit,omitempty"`
	Offset          int     `json:"offset,omitempty"`
}

// Match reports whether call satisfies the filter's predicates (paging excluded)
func (f CallFilter) Match(call *ContractFunctionCall) bool {
	if f.ContractAddress != nil && !strings.EqualFold(*f.ContractAddress, call.ContractAddress) {
		return false
	}
	if f.FunctionName != nil && *f.FunctionName != call.FunctionName {
		return false
	}
	if f.FromBlock != nil && call.BlockNumber < *f.FromBlock {
		return false
	}
	if f.ToBlock != nil && call.BlockNumber > *f.ToBlock {
		return false
	}
	return true
}

// Page applies Offset and Limit to an already filtered result
func (f CallFilter) Page(calls []*ContractFunctionCall) []*ContractFunctionCall {
	if f.Offset > 0 {
		if f.Offset >= len(calls) {
			return []*ContractFunctionCall{}
		}
		calls = calls[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(calls) {
		calls = calls[:f.Limit]
	}
	return calls
}
