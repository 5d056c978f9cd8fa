package decoder

import (
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testABI = `[
  {"type":"function","name":"transfer","stateMutability":"nonpayable",
   "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"mint","stateMutability":"nonpayable",
   "inputs":[{"name":"","type":"address"},{"name":"","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"balanceOf","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"configure","stateMutability":"nonpayable",
   "inputs":[
     {"name":"cfg","type":"tuple","components":[{"name":"owner","type":"address"},{"name":"limit","type":"uint64"}]},
     {"name":"tag","type":"bytes32"},
     {"name":"enabled","type":"bool"},
     {"name":"labels","type":"string[]"},
     {"name":"payload","type":"bytes"}
   ],"outputs":[]},
  {"type":"event","name":"Transfer","anonymous":false,
   "inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"value","type":"uint256","indexed":false}]}
]`

var (
	alice = common.HexToAddress("0xBBBbBBBbbBBBbbbBbbBbbbbBBbBbbbbBbBbbBBbB")
	bob   = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

func newTestDecoder(t *testing.T) *ABIDecoder {
	t.Helper()
	parsed, err := ParseABI(strings.NewReader(testABI))
	require.NoError(t, err)
	return NewABIDecoder(parsed)
}

func TestDecodeTransfer(t *testing.T) {
	d := newTestDecoder(t)

	payload, err := d.ABI().Pack("transfer", alice, big.NewInt(5))
	require.NoError(t, err)

	call, err := d.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, "transfer", call.FunctionName)
	assert.Equal(t, map[string]interface{}{
		"to":     alice.Hex(),
		"amount": json.Number("5"),
	}, call.Args)

	// decoding is deterministic
	again, err := d.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, call, again)

	encoded, err := json.Marshal(call.Args)
	require.NoError(t, err)
	assert.JSONEq(t, `{"to":"`+alice.Hex()+`","amount":5}`, string(encoded))
}

func TestDecodeUnnamedArguments(t *testing.T) {
	d := newTestDecoder(t)

	amount, ok := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)
	require.True(t, ok)

	payload, err := d.ABI().Pack("mint", bob, amount)
	require.NoError(t, err)

	call, err := d.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, "mint", call.FunctionName)
	assert.Equal(t, bob.Hex(), call.Args["arg0"])
	assert.Equal(t, json.Number(amount.String()), call.Args["arg1"])
}

func TestDecodeComplexArguments(t *testing.T) {
	d := newTestDecoder(t)

	cfg := struct {
		Owner common.Address
		Limit uint64
	}{Owner: alice, Limit: 7}
	var tag [32]byte
	tag[0] = 0xde
	tag[31] = 0xad

	payload, err := d.ABI().Pack("configure", cfg, tag, true, []string{"a", "b"}, []byte{0x01, 0x02})
	require.NoError(t, err)

	call, err := d.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, "configure", call.FunctionName)
	assert.Equal(t, map[string]interface{}{
		"owner": alice.Hex(),
		"limit": json.Number("7"),
	}, call.Args["cfg"])
	assert.Equal(t, "0xde000000000000000000000000000000000000000000000000000000000000ad", call.Args["tag"])
	assert.Equal(t, true, call.Args["enabled"])
	assert.Equal(t, []interface{}{"a", "b"}, call.Args["labels"])
	assert.Equal(t, "0x0102", call.Args["payload"])
}

func TestDecodeFailures(t *testing.T) {
	d := newTestDecoder(t)

	t.Run("short payload", func(t *testing.T) {
		_, err := d.Decode([]byte{0xa9, 0x05})
		require.Error(t, err)
		var decodeErr *DecodeError
		require.ErrorAs(t, err, &decodeErr)
		assert.Equal(t, ReasonShortPayload, decodeErr.Reason)
	})

	t.Run("unknown selector", func(t *testing.T) {
		_, err := d.Decode(common.FromHex("0xdeadbeef0000"))
		require.Error(t, err)
		var decodeErr *DecodeError
		require.ErrorAs(t, err, &decodeErr)
		assert.Equal(t, ReasonUnknownSelector, decodeErr.Reason)
		assert.Equal(t, "0xdeadbeef", decodeErr.Selector)
		assert.True(t, IsDecodeError(err))
	})

	t.Run("malformed arguments", func(t *testing.T) {
		payload, err := d.ABI().Pack("transfer", alice, big.NewInt(5))
		require.NoError(t, err)

		_, err = d.Decode(payload[:20])
		require.Error(t, err)
		var decodeErr *DecodeError
		require.ErrorAs(t, err, &decodeErr)
		assert.Equal(t, ReasonMalformedArguments, decodeErr.Reason)
		assert.Equal(t, "0xa9059cbb", decodeErr.Selector)
	})
}

func TestParseABIArtifact(t *testing.T) {
	artifact := `{"contractName":"Token","abi":` + testABI + `,"bytecode":"0x"}`
	parsed, err := ParseABI(strings.NewReader(artifact))
	require.NoError(t, err)
	assert.Contains(t, parsed.Methods, "transfer")

	_, err = ParseABI(strings.NewReader(`{"contractName":"Token"}`))
	assert.Error(t, err)

	_, err = ParseABI(strings.NewReader(`[{"type":"function","name":`))
	assert.Error(t, err)
}

func TestLoadABI(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte(testABI), 0o644))

	parsed, err := LoadABI(path)
	require.NoError(t, err)
	assert.Len(t, parsed.Methods, 4)

	_, err = LoadABI(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	d := newTestDecoder(t)

	entries := Describe(d.ABI(), true, true)
	require.Len(t, entries, 5)

	assert.Equal(t, KindFunction, entries[0].Kind)
	assert.Equal(t, "balanceOf(address)", entries[0].Signature)
	assert.True(t, entries[0].ReadOnly)

	last := entries[len(entries)-1]
	assert.Equal(t, KindEvent, last.Kind)
	assert.Equal(t, "Transfer(address,address,uint256)", last.Signature)
	assert.Equal(t, "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef", last.Identifier)

	var transfer Entry
	for _, e := range entries {
		if e.Name == "transfer" {
			transfer = e
		}
	}
	assert.Equal(t, "0xa9059cbb", transfer.Identifier)

	assert.Len(t, Describe(d.ABI(), false, true), 1)
	assert.Len(t, Describe(d.ABI(), true, false), 4)
}
