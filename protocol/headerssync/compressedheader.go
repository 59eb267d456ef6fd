package headerssync

import (
	"time"

	"github.com/vesperanet/vesperad/util/chainhash"
	"github.com/vesperanet/vesperad/wire"
)

// compressedHeader is a block header with the previous-block hash dropped.
// Inside the redownload buffer every header's previous hash is implied by its
// neighbor, so storing it would waste 32 of every 80 bytes across a buffer
// that holds thousands of entries.
type compressedHeader struct {
	merkleRoot chainhash.Hash
	version    int32
	timestamp  uint32
	bits       uint32
	nonce      uint32
}

// compressHeader strips the previous-block hash from a header.
func compressHeader(header *wire.BlockHeader) compressedHeader {
	return compressedHeader{
		merkleRoot: header.MerkleRoot,
		version:    header.Version,
		timestamp:  uint32(header.Timestamp.Unix()),
		bits:       header.Bits,
		nonce:      header.Nonce,
	}
}

// fullHeader reconstructs the original header given the dropped
// previous-block hash.
func (ch *compressedHeader) fullHeader(prevBlock *chainhash.Hash) *wire.BlockHeader {
	return &wire.BlockHeader{
		Version:    ch.version,
		PrevBlock:  *prevBlock,
		MerkleRoot: ch.merkleRoot,
		Timestamp:  time.Unix(int64(ch.timestamp), 0),
		Bits:       ch.bits,
		Nonce:      ch.nonce,
	}
}
