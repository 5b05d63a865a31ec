package ingest

import (
	"fmt"

	"golang.org/x/net/bpf"
)

const filterSnapLen = 0x40000

// ProbeFilter returns a classic BPF program that keeps untagged IPv4 and IPv6
// UDP datagrams addressed to port, and every 802.1Q or 802.1ad tagged frame.
// IPv4 non-first fragments and IPv6 extension headers are rejected. Tagged
// frames are left to the classifier.
func ProbeFilter(port uint16) []bpf.Instruction {
	p := uint32(port)
	return []bpf.Instruction{
		/* 0 */ bpf.LoadAbsolute{Off: 12, Size: 2},
		/* 1 */ bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x0800, SkipTrue: 4},
		/* 2 */ bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x86dd, SkipTrue: 10},
		/* 3 */ bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x8100, SkipTrue: 13},
		/* 4 */ bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x88a8, SkipTrue: 12},
		/* 5 */ bpf.RetConstant{Val: 0},
		// IPv4
		/* 6 */ bpf.LoadAbsolute{Off: 23, Size: 1},
		/* 7 */ bpf.JumpIf{Cond: bpf.JumpEqual, Val: 17, SkipFalse: 10},
		/* 8 */ bpf.LoadAbsolute{Off: 20, Size: 2},
		/* 9 */ bpf.JumpIf{Cond: bpf.JumpBitsSet, Val: 0x1fff, SkipTrue: 8},
		/* 10 */ bpf.LoadMemShift{Off: 14},
		/* 11 */ bpf.LoadIndirect{Off: 16, Size: 2},
		/* 12 */ bpf.JumpIf{Cond: bpf.JumpEqual, Val: p, SkipTrue: 4, SkipFalse: 5},
		// IPv6
		/* 13 */ bpf.LoadAbsolute{Off: 20, Size: 1},
		/* 14 */ bpf.JumpIf{Cond: bpf.JumpEqual, Val: 17, SkipFalse: 3},
		/* 15 */ bpf.LoadAbsolute{Off: 56, Size: 2},
		/* 16 */ bpf.JumpIf{Cond: bpf.JumpEqual, Val: p, SkipFalse: 1},
		/* 17 */ bpf.RetConstant{Val: filterSnapLen},
		/* 18 */ bpf.RetConstant{Val: 0},
	}
}

// AssembleProbeFilter returns ProbeFilter(port) in kernel form.
func AssembleProbeFilter(port uint16) ([]bpf.RawInstruction, error) {
	raw, err := bpf.Assemble(ProbeFilter(port))
	if err != nil {
		return nil, fmt.Errorf("failed to assemble probe filter: %w", err)
	}
	return raw, nil
}

// frameFilter runs a BPF program in user space, for sources that have no
// kernel filter.
type frameFilter struct {
	vm *bpf.VM
}

func newFrameFilter(port uint16) (*frameFilter, error) {
	vm, err := bpf.NewVM(ProbeFilter(port))
	if err != nil {
		return nil, fmt.Errorf("failed to load probe filter: %w", err)
	}
	return &frameFilter{vm: vm}, nil
}

func (f *frameFilter) match(frame []byte) bool {
	n, err := f.vm.Run(frame)
	return err == nil && n > 0
}
