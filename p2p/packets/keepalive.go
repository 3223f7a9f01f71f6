package packets

import (
	"encoding/binary"
	"net/netip"
)

const (
	KeepalivePeers = 8
	KeepaliveSize  = KeepalivePeers * (16 + 2)
)

// SerializeKeepalive packs up to eight endpoints as IPv6 address and
// little-endian port. Unused slots stay zero.
func SerializeKeepalive(peers []netip.AddrPort) []byte {
	data := make([]byte, KeepaliveSize)
	for i, peer := range peers {
		if i == KeepalivePeers {
			break
		}

		ip := peer.Addr().As16()
		copy(data[i*18:], ip[:])
		binary.LittleEndian.PutUint16(data[i*18+16:], peer.Port())
	}

	return data
}

func DeserializeKeepalive(data []byte) []netip.AddrPort {
	var peers []netip.AddrPort
	for i := 0; i+18 <= len(data) && i < KeepaliveSize; i += 18 {
		var ip [16]byte
		copy(ip[:], data[i:i+16])

		address := netip.AddrFrom16(ip).Unmap()
		port := binary.LittleEndian.Uint16(data[i+16 : i+18])
		if address.IsUnspecified() || port == 0 {
			continue
		}

		peers = append(peers, netip.AddrPortFrom(address, port))
	}

	return peers
}
