package asm

import (
	"fmt"
	"strconv"
	"strings"
)

// JumpType marks jumps into and out of functions.
type JumpType string

const (
	JumpRegular JumpType = ""
	JumpIn      JumpType = "[in]"
	JumpOut     JumpType = "[out]"
)

// Instruction is a single entry of the ".code" list.
type Instruction struct {
	Name     Name     `json:"name"`
	Value    *string  `json:"value,omitempty"`
	Begin    int      `json:"begin"`
	End      int      `json:"end"`
	Source   int      `json:"source"`
	JumpType JumpType `json:"jumpType,omitempty"`
}

// NewInstruction is a convenience constructor for instructions without source locations.
func NewInstruction(name Name, value ...string) Instruction {
	ix := Instruction{Name: name}
	if len(value) > 0 {
		v := value[0]
		ix.Value = &v
	}
	return ix
}

// Operand returns the literal value of the instruction or ErrMissingOperand.
func (ix Instruction) Operand() (string, error) {
	if ix.Value == nil {
		return "", ErrMissingOperand{Name: ix.Name}
	}
	return *ix.Value, nil
}

// TagNumber parses the value of a tag or PUSH [tag] instruction.
// Tags are decimal, and are returned normalized.
func (ix Instruction) TagNumber() (string, error) {
	v, err := ix.Operand()
	if err != nil {
		return "", err
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return "", fmt.Errorf("malformed tag %q: %w", v, err)
	}
	return strconv.FormatUint(n, 10), nil
}

// Validate checks the instruction is known and carries the operands it needs.
func (ix Instruction) Validate() error {
	if !ix.Name.Known() {
		return ErrUnknownInstruction{Name: ix.Name}
	}
	if ix.Name.RequiresOperand() && ix.Value == nil {
		return ErrMissingOperand{Name: ix.Name}
	}
	switch ix.Name {
	case Tag, PushTag:
		if _, err := ix.TagNumber(); err != nil {
			return err
		}
	}
	if ix.Name.IsPush() && !isHex(*ix.Value) {
		return fmt.Errorf("%s: malformed hex literal %q", ix.Name, *ix.Value)
	}
	switch ix.JumpType {
	case JumpRegular, JumpIn, JumpOut:
	default:
		return fmt.Errorf("%s: unknown jump type %q", ix.Name, ix.JumpType)
	}
	return nil
}

func (ix Instruction) String() string {
	var sb strings.Builder
	sb.WriteString(string(ix.Name))
	if ix.Value != nil {
		sb.WriteString(" ")
		sb.WriteString(*ix.Value)
	}
	if ix.JumpType != JumpRegular {
		sb.WriteString(" ")
		sb.WriteString(string(ix.JumpType))
	}
	return sb.String()
}

// ReplaceDataAliases rewrites the data index operands of PUSH #[$] and PUSH [$] into contract paths.
// Indexes are looked up zero padded to the width of a field.
func ReplaceDataAliases(code []Instruction, indexPaths map[string]string) {
	for i := range code {
		ix := &code[i]
		if ix.Value == nil {
			continue
		}
		switch ix.Name {
		case PushContractHash, PushContractHashSize:
			if p, ok := indexPaths[PadIndex(*ix.Value)]; ok {
				v := p
				ix.Value = &v
			}
		}
	}
}

// PadIndex left pads a data index with zeros to 64 hex digits.
func PadIndex(index string) string {
	if len(index) >= 64 {
		return index
	}
	return strings.Repeat("0", 64-len(index)) + index
}

// IsHex returns true if x is a non-empty string of hex digits.
func IsHex(x string) bool {
	return x != "" && isHex(x)
}

func isHex(x string) bool {
	for _, c := range x {
		switch {
		case '0' <= c && c <= '9', 'a' <= c && c <= 'f', 'A' <= c && c <= 'F':
		default:
			return false
		}
	}
	return true
}

type ErrMissingOperand struct {
	Name Name
}

func (e ErrMissingOperand) Error() string {
	return fmt.Sprintf("instruction %s is missing its value", e.Name)
}

type ErrUnknownInstruction struct {
	Name Name
}

func (e ErrUnknownInstruction) Error() string {
	return fmt.Sprintf("unknown instruction %q", string(e.Name))
}
