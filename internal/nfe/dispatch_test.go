package nfe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tcpPacket(dir int, seq, ack uint32, flags TCPFlag, dataLen int, ts int64) *Packet {
	client := AddrFromV4([4]byte{10, 0, 0, 5})
	server := AddrFromV4([4]byte{10, 0, 0, 1})
	p := &Packet{
		Timestamp: ts,
		Type:      PacketHost,
		Next:      NextLookupTCP,
		TCPSeq:    seq,
		TCPAck:    ack,
		TCPFlags:  flags,
		TCPWindow: 65535,
		DataLen:   dataLen,
	}
	if dir == 0 {
		p.Tuple = Tuple{Domain: DomainV4, Proto: ProtoTCP, Addr: [2]Addr{client, server}, Port: [2]uint16{40000, 80}}
	} else {
		p.Tuple = Tuple{Domain: DomainV4, Proto: ProtoTCP, Addr: [2]Addr{server, client}, Port: [2]uint16{80, 40000}}
	}
	if flags&FlagSYN != 0 {
		p.TCPMSS = 1460
	}
	return p
}

func TestLookupPacketKeepsDirectionAcrossHandshake(t *testing.T) {
	ct, err := NewConntrack(8, DefaultExpiry, Allocator{})
	require.NoError(t, err)

	syn := tcpPacket(0, 100, 0, FlagSYN, 0, 0)
	conn, existed := ct.LookupPacket(syn, false)
	require.NotNil(t, conn)
	require.False(t, existed)
	assert.Equal(t, uint32(101), conn.TCP.Half[0].NextSeq)

	synack := tcpPacket(1, 500, 101, FlagSYN|FlagACK, 0, 1)
	again, existed := ct.LookupPacket(synack, false)
	require.True(t, existed)
	assert.Same(t, conn, again)
	assert.Equal(t, TCPEstablished, conn.TCP.State)
	assert.Equal(t, uint32(501), conn.TCP.Half[1].NextSeq)

	data := tcpPacket(0, 101, 501, 0, 200, 3)
	again, existed = ct.LookupPacket(data, false)
	require.True(t, existed)
	assert.Same(t, conn, again)
	assert.Equal(t, uint32(301), conn.TCP.Half[0].NextSeq)
}

func TestLookupPacketWithoutMidflowIgnoresOrphanData(t *testing.T) {
	ct, err := NewConntrack(8, DefaultExpiry, Allocator{})
	require.NoError(t, err)

	orphan := tcpPacket(0, 900, 0, FlagACK, 50, 0)
	conn, existed := ct.LookupPacket(orphan, false)
	assert.Nil(t, conn)
	assert.False(t, existed)
}

func TestLookupPacketWithMidflowCreatesFromData(t *testing.T) {
	ct, err := NewConntrack(8, DefaultExpiry, Allocator{})
	require.NoError(t, err)

	orphan := tcpPacket(0, 900, 0, FlagACK, 50, 0)
	conn, existed := ct.LookupPacket(orphan, true)
	require.NotNil(t, conn)
	assert.False(t, existed)
}
