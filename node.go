package cspace

import "github.com/gocspace/cspace/bitmap"

// tableRecord is the bookkeeping entry for one materialized
// second-level table: its backing storage plus its own S-bit bitmap.
type tableRecord struct {
	untyped Untyped
	bmp     *bitmap.Index
}

// bottomLevelNode is the in-memory book-keeping page that tracks up to
// TablesPerNode second-level tables. It lives inside a 4KiB frame the
// cspace has mapped into its own address space; frameSlot and
// frameUntyped are what Destroy needs to release that frame back to the
// bootstrap cspace and the supplier respectively.
//
// An append-only array element owning a contiguous range of
// bookkeeping state plus the free/used bitmaps for what it covers.
type bottomLevelNode struct {
	frameUntyped Untyped
	frameSlot    SlotName
	tables       []tableRecord
}

func newBottomLevelNode(frameUntyped Untyped, frameSlot SlotName) *bottomLevelNode {
	return &bottomLevelNode{
		frameUntyped: frameUntyped,
		frameSlot:    frameSlot,
		tables:       make([]tableRecord, 0, TablesPerNode),
	}
}

func (n *bottomLevelNode) tableBitmap(i uint64) *bitmap.Index {
	return n.tables[i].bmp
}
