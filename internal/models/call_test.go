package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCallFilter(t *testing.T) {
	calls := []*ContractFunctionCall{
		{BlockNumber: 10, ContractAddress: "0xAbC0000000000000000000000000000000000001", FunctionName: "mint"},
		{BlockNumber: 11, ContractAddress: "0xabc0000000000000000000000000000000000001", FunctionName: "transfer"},
		{BlockNumber: 12, ContractAddress: "0x0000000000000000000000000000000000000002", FunctionName: "transfer"},
	}

	contract := "0xABC0000000000000000000000000000000000001"
	fn := "transfer"
	from := uint64(11)

	byContract := CallFilter{ContractAddress: &contract}
	assert.True(t, byContract.Match(calls[0]))
	assert.True(t, byContract.Match(calls[1]))
	assert.False(t, byContract.Match(calls[2]))

	combined := CallFilter{FunctionName: &fn, FromBlock: &from}
	assert.False(t, combined.Match(calls[0]))
	assert.True(t, combined.Match(calls[1]))
	assert.True(t, combined.Match(calls[2]))

	assert.Equal(t, calls[1:2], CallFilter{Offset: 1, Limit: 1}.Page(calls))
	assert.Empty(t, CallFilter{Offset: 5}.Page(calls))
	assert.Len(t, CallFilter{}.Page(calls), 3)
}
