// Package nameop encodes and decodes the name operation scripts that prefix
// the locking script of a name-holding output.
//
// A name registration output script has the shape
//
//	OP_NAME_DOI <name> <value> OP_2DROP OP_DROP <owner script>
//
// where the owner script is an ordinary P2PKH or P2WPKH locking script.
package nameop

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/btcsuite/btcd/txscript"
	"github.com/doichain/go-sdk/types"
)

const (
	OpNameDoi         = txscript.OP_10
	OpNameFirstUpdate = txscript.OP_2
	OpNameUpdate      = txscript.OP_3

	// TxVersion marks a transaction carrying a name operation.
	TxVersion = 0x7100

	MaxNameLength  = 255
	MaxValueLength = 520
	minNameLength  = 4
)

// Script is a decoded name operation.
type Script struct {
	Op    byte
	Name  string
	Value string
	// OwnerScript is the locking script that follows the name prefix.
	OwnerScript []byte
}

// OpName returns the mnemonic of the name opcode.
func (s Script) OpName() string {
	switch s.Op {
	case OpNameDoi:
		return "name_doi"
	case OpNameFirstUpdate:
		return "name_firstupdate"
	case OpNameUpdate:
		return "name_update"
	default:
		return "unknown"
	}
}

// IsNameOp reports whether the script starts with one of the name opcodes.
func IsNameOp(script []byte) bool {
	if len(script) == 0 {
		return false
	}
	switch script[0] {
	case OpNameDoi, OpNameFirstUpdate, OpNameUpdate:
		return true
	}
	return false
}

// BuildScript prefixes the owner locking script with a name registration.
func BuildScript(name, value string, ownerScript []byte) ([]byte, error) {
	if len(name) > MaxNameLength {
		return nil, fmt.Errorf("%w: name longer than %d bytes", types.ErrInvalidName, MaxNameLength)
	}
	if len(value) > MaxValueLength {
		return nil, fmt.Errorf("%w: value longer than %d bytes", types.ErrInvalidName, MaxValueLength)
	}

	prefix, err := txscript.NewScriptBuilder().
		AddOp(OpNameDoi).
		AddData([]byte(name)).
		AddData([]byte(value)).
		AddOp(txscript.OP_2DROP).
		AddOp(txscript.OP_DROP).
		Script()
	if err != nil {
		return nil, err
	}

	script := make([]byte, 0, len(prefix)+len(ownerScript))
	script = append(script, prefix...)
	return append(script, ownerScript...), nil
}

// Parse decodes a name operation script. The boolean is false when the
// script does not start with a name opcode or is malformed.
//
// Every data push up to the first OP_2DROP is collected: the first is the
// name and the last one the value. The owner script is whatever follows the
// drop opcodes.
func Parse(script []byte) (*Script, bool) {
	if !IsNameOp(script) {
		return nil, false
	}

	tokenizer := txscript.MakeScriptTokenizer(0, script)
	if !tokenizer.Next() {
		return nil, false
	}
	op := tokenizer.Opcode()

	pushes := make([][]byte, 0, 2)
	dropped := false
	for tokenizer.Next() {
		opcode := tokenizer.Opcode()
		if opcode == txscript.OP_2DROP {
			dropped = true
			break
		}
		if opcode > txscript.OP_PUSHDATA4 && opcode != txscript.OP_0 {
			return nil, false
		}
		pushes = append(pushes, tokenizer.Data())
	}
	if !dropped || tokenizer.Err() != nil || len(pushes) == 0 {
		return nil, false
	}

	offset := int(tokenizer.ByteIndex())
	for offset < len(script) &&
		(script[offset] == txscript.OP_DROP || script[offset] == txscript.OP_2DROP) {
		offset++
	}

	return &Script{
		Op:          op,
		Name:        string(pushes[0]),
		Value:       string(pushes[len(pushes)-1]),
		OwnerScript: bytes.Clone(script[offset:]),
	}, true
}

// ValidateName checks a candidate name before it is registered.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: no name provided", types.ErrInvalidName)
	case len(strings.Fields(name)) > 1 || strings.ContainsAny(name, " \t\n"):
		return fmt.Errorf("%w: only one name is allowed", types.ErrInvalidName)
	case utf8.RuneCountInString(name) < minNameLength:
		return fmt.Errorf("%w: name %q is too short", types.ErrInvalidName, name)
	case len(name) > MaxNameLength:
		return fmt.Errorf("%w: name is longer than %d bytes", types.ErrInvalidName, MaxNameLength)
	}
	return nil
}

// ValidateValue checks the value stored alongside a name.
func ValidateValue(value string) error {
	if len(value) > MaxValueLength {
		return fmt.Errorf("%w: value is longer than %d bytes", types.ErrInvalidName, MaxValueLength)
	}
	return nil
}
