package ingest

import "fmt"

const (
	tpacketAlignment = 16
	maxBlockSize     = 4 << 20
)

// Geometry is the AF_PACKET mmap ring layout.
type Geometry struct {
	FrameSize int
	BlockSize int
	NumBlocks int
}

// alignGeometry adjusts g to PACKET_MMAP constraints: the frame size is a
// multiple of TPACKET_ALIGNMENT, the block size a multiple of both the page
// size and the frame size, and the total memory close to the requested one.
func alignGeometry(g Geometry, pageSize int) (Geometry, error) {
	if g.FrameSize <= 0 || g.BlockSize <= 0 || g.NumBlocks <= 0 {
		return g, fmt.Errorf("invalid ring geometry frame=%d block=%d blocks=%d", g.FrameSize, g.BlockSize, g.NumBlocks)
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return g, fmt.Errorf("page size must be positive and multiple of %d, got %d", tpacketAlignment, pageSize)
	}
	total := g.BlockSize * g.NumBlocks

	frameSize := (g.FrameSize + tpacketAlignment - 1) / tpacketAlignment * tpacketAlignment
	unit := lcm(pageSize, frameSize)
	if unit > maxBlockSize {
		return g, fmt.Errorf("frame size %d cannot be aligned to page size %d", frameSize, pageSize)
	}

	blockSize := (g.BlockSize + unit - 1) / unit * unit
	for blockSize > maxBlockSize && blockSize > unit {
		blockSize -= unit
	}
	numBlocks := total / blockSize
	if numBlocks < 1 {
		numBlocks = 1
	}
	return Geometry{FrameSize: frameSize, BlockSize: blockSize, NumBlocks: numBlocks}, nil
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return a / gcd(a, b) * b
}
