package assembly

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// maxChromosomes bounds the rank so it packs into two bytes.
	maxChromosomes = math.MaxUint16 + 1

	// maxPosition bounds a 1-based offset so it packs into four bytes.
	// The largest known chromosome is ~250Mb, so uint32 leaves ample room.
	maxPosition = math.MaxUint32
)

// RegionKeySize is the fixed width of an encoded region key.
const RegionKeySize = 6

// RegionKey is a fixed-width storage key for a genomic position. Keys
// compare bytewise in (chromosome rank, position) order, so range scans
// over a key-ordered store return positions in genomic order.
//
// Layout: rank uint16 big-endian | position uint32 big-endian.
type RegionKey [RegionKeySize]byte

// Bytes returns the key as a slice for use as a store key.
func (k RegionKey) Bytes() []byte {
	return k[:]
}

// String renders the key in rank:position form for logs.
func (k RegionKey) String() string {
	rank := binary.BigEndian.Uint16(k[0:2])
	pos := binary.BigEndian.Uint32(k[2:6])
	return fmt.Sprintf("%d:%d", rank, pos)
}

// Encode canonicalizes a chromosome and 1-based position into a region key.
func (a *Assembly) Encode(chrom string, pos int64) (RegionKey, error) {
	var key RegionKey

	rank, ok := a.ranks[chrom]
	if !ok {
		return key, fmt.Errorf("%w: %s", ErrInvalidChromosome, chrom)
	}
	if pos < 1 || pos > maxPosition {
		return key, fmt.Errorf("%w: %s:%d", ErrInvalidPosition, chrom, pos)
	}

	binary.BigEndian.PutUint16(key[0:2], uint16(rank))
	binary.BigEndian.PutUint32(key[2:6], uint32(pos))
	return key, nil
}

// Decode recovers the chromosome and position from a region key.
func (a *Assembly) Decode(key RegionKey) (string, int64, error) {
	rank := int(binary.BigEndian.Uint16(key[0:2]))
	if rank >= len(a.names) {
		return "", 0, fmt.Errorf("%w: rank %d", ErrInvalidChromosome, rank)
	}
	pos := int64(binary.BigEndian.Uint32(key[2:6]))
	if pos < 1 {
		return "", 0, fmt.Errorf("%w: %d", ErrInvalidPosition, pos)
	}
	return a.names[rank], pos, nil
}

// KeyFromBytes reconstructs a region key from a stored slice.
func KeyFromBytes(b []byte) (RegionKey, error) {
	var key RegionKey
	if len(b) != RegionKeySize {
		return key, fmt.Errorf("region key must be %d bytes, got %d", RegionKeySize, len(b))
	}
	copy(key[:], b)
	return key, nil
}
