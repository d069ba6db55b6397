package track

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_EncodeDecode(t *testing.T) {
	r := &Record{
		JoinKey: "NM_000546",
		Chrom:   "chr17",
		Start:   7571720,
		End:     7590868,
		Fields: []Field{
			{Name: "name", Values: []string{"NM_000546"}},
			{Name: "kgID", Values: []string{"uc002gig.1", "uc002gih.2"}},
			{Name: "geneSymbol", Values: []string{"TP53"}},
		},
	}

	data, err := r.Encode()
	require.NoError(t, err)

	back, err := DecodeRecord(data)
	require.NoError(t, err)
	assert.Equal(t, r, back)
	assert.Equal(t, []string{"uc002gig.1", "uc002gih.2"}, back.Get("kgID"),
		"multi-values preserve order")
}

func TestRecord_DeterministicEncoding(t *testing.T) {
	r := &Record{
		JoinKey: "NM_1",
		Chrom:   "chr1",
		Start:   100,
		End:     200,
		Fields: []Field{
			{Name: "a", Values: []string{"1"}},
			{Name: "b", Values: []string{"2", "3"}},
		},
	}

	first, err := r.Encode()
	require.NoError(t, err)
	second, err := r.Encode()
	require.NoError(t, err)
	assert.Equal(t, first, second, "field order is fixed, encoding is stable")
}

func TestRecord_Accessors(t *testing.T) {
	r := &Record{Fields: []Field{{Name: "score", Values: []string{"0.91"}}}}

	assert.Equal(t, "0.91", r.First("score"))
	assert.Empty(t, r.First("absent"))
	assert.Nil(t, r.Get("absent"))
}

func TestDecodeRecord_Garbage(t *testing.T) {
	_, err := DecodeRecord([]byte{0xc1, 0xff, 0x00})
	assert.Error(t, err)
}
