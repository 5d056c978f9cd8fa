// Package decoder recovers function names and arguments from contract calldata.
package decoder

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/smartdevs17/rsk-call-crawler/pkg/utils"
)

// Failure reasons carried by DecodeError
const (
	ReasonShortPayload       = "short_payload"
	ReasonUnknownSelector    = "unknown_selector"
	ReasonMalformedArguments = "malformed_arguments"
)

// DecodedCall is the interpretation of one payload
type DecodedCall struct {
	FunctionName string
	Args         map[string]interface{}
}

// Decoder interprets raw call payloads against an interface description
type Decoder interface {
	Decode(payload []byte) (*DecodedCall, error)
}

// DecodeError reports a payload that does not match the interface description
type DecodeError struct {
	Reason   string
	Selector string
	Err      error
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("decode %s", e.Reason)
	if e.Selector != "" {
		msg += " (selector " + e.Selector + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err is a DecodeError
func IsDecodeError(err error) bool {
	var decodeErr *DecodeError
	return errors.As(err, &decodeErr)
}

// ABIDecoder decodes calldata with a go-ethereum ABI
type ABIDecoder struct {
	abi *abi.ABI
}

// NewABIDecoder creates a decoder for the given ABI
func NewABIDecoder(contractABI *abi.ABI) *ABIDecoder {
	return &ABIDecoder{abi: contractABI}
}

// ABI returns the interface description the decoder uses
func (d *ABIDecoder) ABI() *abi.ABI {
	return d.abi
}

// Decode matches the 4-byte selector and unpacks the arguments that follow it
func (d *ABIDecoder) Decode(payload []byte) (*DecodedCall, error) {
	if len(payload) < 4 {
		return nil, &DecodeError{Reason: ReasonShortPayload,
			Err: fmt.Errorf("payload has %d bytes, need at least 4", len(payload))}
	}

	selector := hexutil.Encode(payload[:4])
	method, err := d.abi.MethodById(payload[:4])
	if err != nil {
		return nil, &DecodeError{Reason: ReasonUnknownSelector, Selector: selector, Err: err}
	}

	values, err := method.Inputs.Unpack(payload[4:])
	if err != nil {
		return nil, &DecodeError{Reason: ReasonMalformedArguments, Selector: selector, Err: err}
	}

	args := make(map[string]interface{}, len(method.Inputs))
	for i, input := range method.Inputs {
		if i >= len(values) {
			break
		}
		args[ArgumentName(input.Name, i)] = normalizeValue(values[i])
	}

	return &DecodedCall{FunctionName: method.Name, Args: args}, nil
}

// ArgumentName returns the key under which a parameter is stored; unnamed
// parameters get a positional name.
func ArgumentName(name string, position int) string {
	if name == "" {
		return fmt.Sprintf("arg%d", position)
	}
	return name
}

// LoadABI reads a JSON ABI file
func LoadABI(path string) (*abi.ABI, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeConfiguration, "Failed to open ABI file", err)
	}
	defer f.Close()

	return ParseABI(f)
}

// ParseABI parses either a bare ABI array or a build artifact with an "abi" field
func ParseABI(r io.Reader) (*abi.ABI, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeConfiguration, "Failed to read ABI", err)
	}

	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") {
		var artifact struct {
			ABI json.RawMessage `json:"abi"`
		}
		if err := json.Unmarshal([]byte(trimmed), &artifact); err != nil {
			return nil, utils.WrapError(utils.ErrCodeConfiguration, "Failed to parse ABI artifact", err)
		}
		if len(artifact.ABI) == 0 {
			return nil, utils.NewAppError(utils.ErrCodeConfiguration, "ABI artifact has no abi field")
		}
		trimmed = string(artifact.ABI)
	}

	parsed, err := abi.JSON(strings.NewReader(trimmed))
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeConfiguration, "Failed to parse ABI", err)
	}
	return &parsed, nil
}
