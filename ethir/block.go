package ethir

import (
	"fmt"

	"zkc.dev/zkc/asm"
	"zkc.dev/zkc/codegen"
)

// EntryTag is the key of the first block of a code section.
const EntryTag = "function_main"

// BlockKey identifies a block within a contract.
type BlockKey struct {
	Code codegen.CodeType
	Tag  string
}

func (k BlockKey) String() string {
	return k.Code.String() + "/" + k.Tag
}

// Block is a straight line run of instructions.
// It starts at a tag or after a terminator and ends before a tag or at a terminator.
type Block struct {
	Key          BlockKey
	Instructions []asm.Instruction
	// Fallthrough is the block executed next when the block does not end in a transfer.
	// It is nil if the block is the last one of its section.
	Fallthrough *BlockKey
}

// Terminator returns the last instruction if it ends the block.
func (b *Block) Terminator() (asm.Instruction, bool) {
	if len(b.Instructions) == 0 {
		return asm.Instruction{}, false
	}
	last := b.Instructions[len(b.Instructions)-1]
	return last, last.Name.IsTerminator()
}

// fallsThrough returns true if control can reach the end of the block.
func (b *Block) fallsThrough() bool {
	last, ok := b.Terminator()
	return !ok || last.Name == asm.JUMPI
}

// BlockFromInstructions reads one block from the start of ixs.
// If ixs does not start with a tag declaration, the block gets the key tag.
// It returns the block and the number of instructions consumed.
func BlockFromInstructions(code codegen.CodeType, ixs []asm.Instruction, tag string) (*Block, int, error) {
	b := &Block{Key: BlockKey{Code: code, Tag: tag}}
	i := 0
	if len(ixs) > 0 && ixs[0].Name == asm.Tag {
		if err := ixs[0].Validate(); err != nil {
			return nil, 0, err
		}
		n, err := ixs[0].TagNumber()
		if err != nil {
			return nil, 0, err
		}
		b.Key.Tag = n
		i = 1
	}
	for ; i < len(ixs); i++ {
		ix := ixs[i]
		if ix.Name == asm.Tag {
			break
		}
		if err := ix.Validate(); err != nil {
			return nil, 0, fmt.Errorf("block %v: %w", b.Key, err)
		}
		b.Instructions = append(b.Instructions, ix)
		if ix.Name.IsTerminator() {
			i++
			break
		}
	}
	return b, i, nil
}

// Blocks partitions a code section into blocks, in order.
// The first block has the key EntryTag.
func Blocks(code codegen.CodeType, ixs []asm.Instruction) ([]*Block, error) {
	var blocks []*Block
	if len(ixs) == 0 || ixs[0].Name == asm.Tag {
		blocks = append(blocks, &Block{Key: BlockKey{Code: code, Tag: EntryTag}})
	}
	seen := make(map[BlockKey]struct{})
	for offset := 0; offset < len(ixs); {
		tag := EntryTag
		if offset > 0 {
			tag = fmt.Sprintf("untagged_%d", offset)
		}
		b, n, err := BlockFromInstructions(code, ixs[offset:], tag)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", offset, err)
		}
		if _, exists := seen[b.Key]; exists {
			return nil, fmt.Errorf("instruction %d: tag %s is declared twice", offset, b.Key.Tag)
		}
		seen[b.Key] = struct{}{}
		blocks = append(blocks, b)
		offset += n
	}
	for i, b := range blocks[:len(blocks)-1] {
		if b.fallsThrough() {
			next := blocks[i+1].Key
			b.Fallthrough = &next
		}
	}
	return blocks, nil
}
