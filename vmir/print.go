package vmir

import (
	"fmt"
	"io"
	"strings"
)

// WriteTo writes a human readable listing of the module.
func (m *Module) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "module %q entry @%s\n", m.Name, m.Entry)
	for _, f := range m.Functions {
		sb.WriteString("\n")
		f.print(&sb)
	}
	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

func (m *Module) String() string {
	var sb strings.Builder
	m.WriteTo(&sb)
	return sb.String()
}

func (f *Function) print(sb *strings.Builder) {
	fmt.Fprintf(sb, "function @%s(params=%d, results=%d, slots=%d) {\n", f.Name, f.Params, f.Results, f.NumSlots)
	for _, b := range f.Blocks {
		fmt.Fprintf(sb, "%s:\n", b.Label)
		for _, ix := range b.Instrs {
			fmt.Fprintf(sb, "    %v\n", ix)
		}
		if b.Term != nil {
			fmt.Fprintf(sb, "    %v\n", b.Term)
		}
	}
	sb.WriteString("}\n")
}
