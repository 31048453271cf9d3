package nfe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func v4Tuple(srcIP, dstIP [4]byte, srcPort, dstPort uint16) Tuple {
	return Tuple{
		Domain: DomainV4,
		Proto:  ProtoTCP,
		Addr:   [2]Addr{AddrFromV4(srcIP), AddrFromV4(dstIP)},
		Port:   [2]uint16{srcPort, dstPort},
	}
}

// TestS4SymmetricHash is spec §8 scenario S4.
func TestS4SymmetricHash(t *testing.T) {
	a := v4Tuple([4]byte{10, 0, 0, 1}, [4]byte{10, 0, 0, 2}, 1234, 80)
	b := a.inverted()

	assert.Equal(t, a.Hash(), b.Hash())
}

// TestSymmetricHashProperty is spec §8 property 4, exercised over a range
// of tuples rather than one fixed example.
func TestSymmetricHashProperty(t *testing.T) {
	tuples := []Tuple{
		v4Tuple([4]byte{192, 168, 1, 1}, [4]byte{192, 168, 1, 2}, 443, 51000),
		v4Tuple([4]byte{172, 16, 0, 9}, [4]byte{172, 16, 0, 1}, 22, 54321),
		v4Tuple([4]byte{1, 1, 1, 1}, [4]byte{1, 1, 1, 1}, 53, 53),
	}
	for _, tp := range tuples {
		assert.Equal(t, tp.Hash(), tp.inverted().Hash())
	}
}

// TestTupleEqualSymmetric is spec §8 property 5.
func TestTupleEqualSymmetric(t *testing.T) {
	a := v4Tuple([4]byte{10, 0, 0, 1}, [4]byte{10, 0, 0, 2}, 1234, 80)
	b := a.inverted()

	assert.True(t, a.Equal(b))
	assert.True(t, b.Equal(a))

	c := v4Tuple([4]byte{10, 0, 0, 1}, [4]byte{10, 0, 0, 3}, 1234, 80)
	assert.False(t, a.Equal(c))
	assert.False(t, c.Equal(a))
}

func TestCanonicalOrientationIsStable(t *testing.T) {
	a := v4Tuple([4]byte{10, 0, 0, 1}, [4]byte{10, 0, 0, 2}, 1234, 80)
	b := a.inverted()

	assert.Equal(t, a.canonical(), b.canonical())
}
