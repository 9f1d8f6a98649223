package layout

import (
	"strings"

	"github.com/adverant/nexus/pdf2md/internal/errors"
)

// Type is a region label.
type Type string

const (
	TypeText          Type = "text"
	TypeTitle         Type = "title"
	TypeFigure        Type = "figure"
	TypeFigureCaption Type = "figure_caption"
	TypeTable         Type = "table"
	TypeTableCaption  Type = "table_caption"
	TypeHeader        Type = "header"
	TypeFooter        Type = "footer"
	TypeReference     Type = "reference"
	TypeEquation      Type = "equation"
	TypeList          Type = "list"
)

// Taxonomy selects one of the two closed label sets a detector may emit.
type Taxonomy int

const (
	// TaxonomyTen is the document layout set used with caption, header and
	// equation aware detectors.
	TaxonomyTen Taxonomy = iota
	// TaxonomyFive is the legacy {text, title, list, table, figure} set.
	TaxonomyFive
)

var taxonomyTypes = map[Taxonomy][]Type{
	TaxonomyTen: {
		TypeText, TypeTitle, TypeFigure, TypeFigureCaption, TypeTable,
		TypeTableCaption, TypeHeader, TypeFooter, TypeReference, TypeEquation,
	},
	TaxonomyFive: {TypeText, TypeTitle, TypeList, TypeTable, TypeFigure},
}

// ParseTaxonomy maps a configuration name onto a Taxonomy.
func ParseTaxonomy(name string) (Taxonomy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "ten", "10":
		return TaxonomyTen, nil
	case "five", "5":
		return TaxonomyFive, nil
	default:
		return 0, errors.NewConfigError("unsupported taxonomy %q (want ten or five)", name)
	}
}

func (t Taxonomy) String() string {
	if t == TaxonomyFive {
		return "five"
	}
	return "ten"
}

// Types lists the labels of the taxonomy in detector id order.
func (t Taxonomy) Types() []Type {
	out := make([]Type, len(taxonomyTypes[t]))
	copy(out, taxonomyTypes[t])
	return out
}

// Contains reports whether typ belongs to the taxonomy.
func (t Taxonomy) Contains(typ Type) bool {
	for _, candidate := range taxonomyTypes[t] {
		if candidate == typ {
			return true
		}
	}
	return false
}

// Normalize maps a raw detector label onto the taxonomy. "figure caption",
// "Figure-Caption" and "figure_caption" are the same label. Unknown labels
// become text so the region is still read.
func (t Taxonomy) Normalize(label string) Type {
	s := strings.ToLower(strings.TrimSpace(label))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	typ := Type(s)
	if t.Contains(typ) {
		return typ
	}
	return TypeText
}

// IsVisual reports whether regions of this type are emitted as image
// placeholders instead of being OCR'd.
func IsVisual(typ Type) bool {
	return typ == TypeTable || typ == TypeFigure
}
