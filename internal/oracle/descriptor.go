// Package oracle implements the reference metadata oracle: a worker that
// observes card update and swap requests, elaborates each card's identity
// seed into a display descriptor, uploads the document to object storage, and
// resolves the pending request through the gateway callbacks.
package oracle

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// Attribute is one trait of a generated card descriptor.
type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     any    `json:"value"`
}

// Descriptor is the metadata document published for a card. Its traits are a
// pure function of the identity seed, so every replica of the worker produces
// the same document for the same request.
type Descriptor struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Attributes  []Attribute `json:"attributes"`
	Seed        string      `json:"seed"`
}

var (
	papers = []string{
		"Bone", "Eggshell", "Pearl", "Ivory", "Arctic White", "Off White",
	}
	typefaces = []string{
		"Silian Rail", "Romalian Type", "Pale Nimbus", "Royal Script",
		"Century Block", "Copperplate Gothic",
	}
	finishes = []string{
		"Raised Lettering", "Embossed Seal", "Gilded Edge",
		"Tasteful Thickness", "Subtle Watermark", "Beveled Border",
	}
	inks = []string{
		"Onyx", "Charcoal", "Midnight Blue", "Burgundy", "Forest Green",
	}
)

// GenerateDescriptor derives a card's descriptor from its identity seed and
// current name and position. Traits are picked by consuming fixed bytes of
// the seed, one byte per trait.
func GenerateDescriptor(seed *big.Int, name, position string) Descriptor {
	b := seedBytes(seed)

	attrs := []Attribute{
		{TraitType: "Position", Value: position},
		{TraitType: "Paper", Value: papers[int(b[0])%len(papers)]},
		{TraitType: "Typeface", Value: typefaces[int(b[1])%len(typefaces)]},
		{TraitType: "Finish", Value: finishes[int(b[2])%len(finishes)]},
		{TraitType: "Ink", Value: inks[int(b[3])%len(inks)]},
		{TraitType: "Stock Weight", Value: 28 + int(b[4])%13},
	}

	return Descriptor{
		Name:        name,
		Description: fmt.Sprintf("Business card of %s.", name),
		Attributes:  attrs,
		Seed:        seed.Text(16),
	}
}

// Marshal renders the descriptor as its canonical JSON document.
func (d Descriptor) Marshal() ([]byte, error) {
	out, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("oracle: marshal descriptor %q: %w", d.Name, err)
	}
	return out, nil
}

// seedBytes returns the seed as a fixed 32-byte big-endian slice.
func seedBytes(seed *big.Int) [32]byte {
	var out [32]byte
	seed.FillBytes(out[:])
	return out
}
