package layout

// Preamble is prepended to every per-type instruction.
const Preamble = "If you are a paper writing assistant, When answering, do not add anything other than the original content."

// InstructionTable maps region types to the cleanup instruction and the
// separator used when joining that type's OCR lines.
type InstructionTable struct {
	Preamble     string
	Instructions map[Type]string
	Separators   map[Type]string
}

// DefaultInstructions returns the built-in table for a taxonomy.
func DefaultInstructions(t Taxonomy) InstructionTable {
	table := InstructionTable{
		Preamble: Preamble,
		Instructions: map[Type]string{
			TypeText:  "the following text is a text from **same paragraph**, please correct it:\n",
			TypeTitle: "the following text is a title, please correct it:\n ##",
		},
		Separators: map[Type]string{
			TypeTitle: " ",
		},
	}

	switch t {
	case TaxonomyFive:
		table.Instructions[TypeList] = "the following text is a list, please correct it and keep one item per line:\n"
	default:
		table.Instructions[TypeFigureCaption] = "the following text is a figure caption, please correct it:\n"
		table.Instructions[TypeTableCaption] = "the following text is a table caption, please correct it:\n"
		table.Instructions[TypeHeader] = "the following text is a header, please correct it:\n"
		table.Instructions[TypeFooter] = "the following text is a footer, please correct it:\n"
		table.Instructions[TypeReference] = "the following text is a reference, please correct it:\n"
		table.Instructions[TypeEquation] = "the following text is an equation, please correct it by latex or markdown:\n"
		table.Separators[TypeFigureCaption] = " "
		table.Separators[TypeTableCaption] = " "
	}
	return table
}

// Instruction returns the full instruction for typ. Types without an entry
// get no instruction at all, not even the preamble.
func (t InstructionTable) Instruction(typ Type) string {
	instr, ok := t.Instructions[typ]
	if !ok {
		return ""
	}
	return t.Preamble + instr
}

// Separator returns the line separator for typ, "\n" unless overridden.
func (t InstructionTable) Separator(typ Type) string {
	if sep, ok := t.Separators[typ]; ok {
		return sep
	}
	return "\n"
}

// WithOverrides returns a copy with the non-empty overrides applied.
func (t InstructionTable) WithOverrides(preamble string, instructions map[string]string) InstructionTable {
	out := InstructionTable{
		Preamble:     t.Preamble,
		Instructions: make(map[Type]string, len(t.Instructions)),
		Separators:   make(map[Type]string, len(t.Separators)),
	}
	for k, v := range t.Instructions {
		out.Instructions[k] = v
	}
	for k, v := range t.Separators {
		out.Separators[k] = v
	}
	if preamble != "" {
		out.Preamble = preamble
	}
	for k, v := range instructions {
		if v != "" {
			out.Instructions[Type(k)] = v
		}
	}
	return out
}
