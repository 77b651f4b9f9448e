package oracle

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateDescriptorDeterministic(t *testing.T) {
	seed := big.NewInt(0xdeadbeef)

	a := GenerateDescriptor(seed, "Patrick Bateman", "Vice President")
	b := GenerateDescriptor(new(big.Int).Set(seed), "Patrick Bateman", "Vice President")

	assert.Equal(t, a, b, "same seed and inputs produce the same descriptor")
}

func TestGenerateDescriptorVariesWithSeed(t *testing.T) {
	a := GenerateDescriptor(big.NewInt(1), "Patrick Bateman", "Vice President")
	b := GenerateDescriptor(big.NewInt(1<<40), "Patrick Bateman", "Vice President")

	assert.NotEqual(t, a.Attributes, b.Attributes)
}

func TestDescriptorMarshal(t *testing.T) {
	doc := GenerateDescriptor(big.NewInt(42), "Paul Allen", "Mergers and Acquisitions")

	body, err := doc.Marshal()
	require.NoError(t, err)

	var decoded Descriptor
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "Paul Allen", decoded.Name)
	require.NotEmpty(t, decoded.Attributes)
	assert.Equal(t, "Position", decoded.Attributes[0].TraitType)
	assert.Equal(t, "Mergers and Acquisitions", decoded.Attributes[0].Value)
}

func TestStockWeightBounds(t *testing.T) {
	for i := int64(0); i < 300; i++ {
		doc := GenerateDescriptor(big.NewInt(i), "x", "")
		for _, attr := range doc.Attributes {
			if attr.TraitType != "Stock Weight" {
				continue
			}
			weight, ok := attr.Value.(int)
			require.True(t, ok)
			assert.GreaterOrEqual(t, weight, 28)
			assert.LessOrEqual(t, weight, 40)
		}
	}
}
