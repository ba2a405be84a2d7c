package cspace

import (
	"github.com/gocspace/cspace/bitmap"
)

// AllocSlot finds and reserves the lowest-numbered free slot. One-level
// cspaces are fully pre-allocated: it is a single bitmap search.
// Two-level cspaces may need to materialize a second-level table first
// before the search can complete, and always refill the watermark
// afterwards.
func (h *Handle) AllocSlot() (SlotName, error) {
	t := h.topBitmap.FirstFree()
	if t == h.topBitmap.Width() {
		return NullCap, ErrExhausted
	}

	if h.mode == OneLevel {
		h.topBitmap.Set(t)
		return SlotName(t), nil
	}

	var used uint32
	cptr := makeSlot(uint64(t), 0)
	if err := h.ensureLevels(cptr, &used); err != nil {
		return NullCap, err
	}

	node := h.nodes[nodeIndex(uint64(t))]
	tbl := node.tableBitmap(tableIndexInNode(uint64(t)))

	b := tbl.FirstFree()
	if b == tbl.Width() {
		// The materialization protocol guarantees a fresh table is
		// never full; reaching here means a bookkeeping invariant
		// was violated elsewhere, not ordinary exhaustion.
		return NullCap, ErrInvariant
	}
	tbl.Set(b)
	if b == tbl.Width()-1 {
		h.topBitmap.Set(t)
	}

	name := makeSlot(uint64(t), uint64(b))

	// Refill happens after the allocation has otherwise completed, so
	// the recursive AllocSlot calls inside refill can never observe a
	// half-mutated table.
	if used != 0 {
		h.wm.refill(h, used)
	}

	return name, nil
}

// FreeSlot clears the bitmap bit for name. It never undoes
// materialization: second-level tables persist until Destroy. Misuse
// (out-of-range or unmaterialized slot) is logged and returned as a
// non-fatal error.
func (h *Handle) FreeSlot(name SlotName) error {
	if h.mode == OneLevel {
		if uint64(name) >= uint64(h.topBitmap.Width()) {
			h.log.WithField("slot", name).Error("attempted to free slot outside cspace bounds")
			return ErrOutOfRange
		}
		h.topBitmap.Clear(uint(name))
		return nil
	}

	if uint64(name) >= uint64(h.topBitmap.Width())*SlotsPerTable {
		h.log.WithField("slot", name).Error("attempted to free slot outside cspace bounds")
		return ErrOutOfRange
	}

	top := topIndex(name)

	// Freeing any slot means the top-level table is no longer
	// provably "all used", regardless of whether this particular slot
	// was the table's last free bit. The top bitmap therefore means
	// "may have a free slot", not "all children full".
	h.topBitmap.Clear(uint(top))

	node := nodeIndex(top)
	tblIdx := tableIndexInNode(top)
	if node < uint64(len(h.nodes)) && tblIdx < uint64(len(h.nodes[node].tables)) {
		h.nodes[node].tableBitmap(tblIdx).Clear(uint(botIndex(name)))
		return nil
	}

	h.log.WithField("slot", name).Warn("attempted to free an unmaterialized slot")
	return ErrUnallocated
}

// Retype delegates to the kernel primitive, addressing the
// second-level table directly in two-level mode and the root table in
// one-level mode. When objType is ObjectCNode, sizeBits is interpreted
// as slot-bits rather than byte-bits, because tables are sized by
// their branching factor.
func (h *Handle) Retype(untyped Untyped, target SlotName, objType ObjectType, sizeBits uint) error {
	if h.mode == TwoLevel {
		return h.kernel.Retype(h.selfSlot, topIndex(target), wordBits-SlotBits, botIndex(target), 1, untyped, objType, sizeBits)
	}
	return h.kernel.Retype(h.selfSlot, 0, 0, uint64(target), 1, untyped, objType, sizeBits)
}

// retypeRootSlot retypes untyped directly into this Handle's own root
// table at top-level offset topIdx, bypassing second-level addressing
// entirely. It is used only by materializeTable, which is installing
// the second-level table object itself, not a leaf slot within one.
func (h *Handle) retypeRootSlot(untyped Untyped, topIdx uint64, objType ObjectType, sizeBits uint) error {
	return h.kernel.Retype(h.selfSlot, 0, 0, topIdx, 1, untyped, objType, sizeBits)
}

// ensureLevels is the materialization protocol: it guarantees that,
// after returning successfully, both the Bottom-Level Node indexing
// node(cptr) and the specific second-level table at cnode(cptr) within
// that node exist. used accumulates the
// watermark bits consumed by any mapping call made along the way, to
// be refilled by the caller once its own operation has completed.
//
// The two bookkeeping counts compared below (len(h.nodes) and
// len(node.tables)) are re-derived from the invariant "index i is
// addressable iff i < count": materialization triggers on count <=
// index, not count < index.
func (h *Handle) ensureLevels(cptr SlotName, used *uint32) error {
	if h.mode != TwoLevel {
		return nil
	}

	top := topIndex(cptr)
	node := nodeIndex(top)
	tblIdx := tableIndexInNode(top)

	if uint64(len(h.nodes)) <= node {
		if err := h.materializeNode(node, used); err != nil {
			return err
		}
	}

	n := h.nodes[node]
	if uint64(len(n.tables)) <= tblIdx {
		if err := h.materializeTable(n, top); err != nil {
			return err
		}
	}

	return nil
}

// materializeNode performs the materialization protocol step 1: obtain an untyped
// from the bootstrap cspace's supplier, retype it into a frame using a
// slot from the bootstrap cspace, and ask the mapping service to
// install it. Every resource acquired is released in reverse order on
// any failure.
func (h *Handle) materializeNode(node uint64, used *uint32) error {
	untyped, ok := h.bootstrap.supplier.alloc4k()
	if !ok {
		return ErrSupplierExhausted
	}

	frameSlot, err := h.bootstrap.AllocSlot()
	if err != nil {
		h.bootstrap.supplier.free4k(untyped)
		return wrap(err, "materialize node: alloc bootstrap slot for bookkeeping frame")
	}

	if err := h.bootstrap.Retype(untyped, frameSlot, ObjectFrame, rootTableSizeBits); err != nil {
		h.bootstrap.FreeSlot(frameSlot)
		h.bootstrap.supplier.free4k(untyped)
		return wrap(err, "materialize node: retype bookkeeping frame")
	}

	_, consumed, ok := h.supplier.mapFrame(frameSlot, h.wm.slots)
	if !ok {
		h.log.WithField("node", node).Debug("bottom-level node allocation failed: mapping rejected")
		_ = h.kernel.Delete(h.bootstrap.selfSlot, frameSlot)
		h.bootstrap.FreeSlot(frameSlot)
		h.bootstrap.supplier.free4k(untyped)
		return ErrMappingFailed
	}
	*used |= consumed

	h.nodes = append(h.nodes, newBottomLevelNode(untyped, frameSlot))
	return nil
}

// materializeTable performs the materialization protocol step 2: obtain an untyped
// from this cspace's own supplier and retype it directly into the
// offset of the root table that this node's next table slot
// corresponds to.
func (h *Handle) materializeTable(n *bottomLevelNode, top uint64) error {
	untyped, ok := h.supplier.alloc4k()
	if !ok {
		return ErrSupplierExhausted
	}

	if err := h.retypeRootSlot(untyped, top, ObjectCNode, SlotBits); err != nil {
		h.supplier.free4k(untyped)
		return wrap(err, "materialize table: retype second-level table")
	}

	n.tables = append(n.tables, tableRecord{untyped: untyped, bmp: bitmap.New(SlotsPerTable)})
	return nil
}
