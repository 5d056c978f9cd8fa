package decoder

import (
	"sort"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/smartdevs17/rsk-call-crawler/pkg/utils"
)

// Entry kinds listed by Describe
const (
	KindFunction = "function"
	KindEvent    = "event"
)

// Entry summarizes one callable function or event of an ABI
type Entry struct {
	Kind       string `json:"kind"`
	Name       string `json:"name"`
	Signature  string `json:"signature"`
	Identifier string `json:"identifier"` // 4-byte selector or event topic
	ReadOnly   bool   `json:"read_only,omitempty"`
}

// Describe lists the functions and/or events of an ABI sorted by signature
func Describe(contractABI *abi.ABI, functions, events bool) []Entry {
	var entries []Entry

	if functions {
		for _, method := range contractABI.Methods {
			entries = append(entries, Entry{
				Kind:       KindFunction,
				Name:       method.Name,
				Signature:  method.Sig,
				Identifier: utils.FunctionSelector(method.Sig),
				ReadOnly:   method.IsConstant(),
			})
		}
	}

	if events {
		for _, event := range contractABI.Events {
			entries = append(entries, Entry{
				Kind:       KindEvent,
				Name:       event.Name,
				Signature:  event.Sig,
				Identifier: event.ID.Hex(),
			})
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Kind != entries[j].Kind {
			return entries[i].Kind == KindFunction
		}
		return entries[i].Signature < entries[j].Signature
	})
	return entries
}
