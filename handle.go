package cspace

import (
	"github.com/gocspace/cspace/bitmap"
	log "github.com/sirupsen/logrus"
)

// Mode distinguishes the one-level and two-level addressing schemes a
// cspace can use. The two variants share the Handle API and
// the materialization-free paths (AllocSlot bounds check, FreeSlot
// bounds check) but diverge in addressing and destroy sequencing —
// modeled here as a field checked at the top of each mode-sensitive
// method rather than as two separate types, matching the size of the
// divergence (a handful of branches, not a handful of types).
type Mode uint8

const (
	// OneLevel cspaces pre-allocate their entire (small) table up
	// front; there is no lazy materialization and no watermark.
	OneLevel Mode = iota

	// TwoLevel cspaces lazily materialize second-level tables on first
	// use, breaking the cycle between allocating a slot and allocating
	// the storage that tracks slots.
	TwoLevel
)

// Handle owns a root capability table and, in TwoLevel mode, the
// lazily-materialized directory of second-level tables that back it.
// A Handle is not safe for concurrent use: callers that
// share one across goroutines must serialize every call themselves.
type Handle struct {
	mode      Mode
	bootstrap *Handle
	kernel    KernelOps
	supplier  Supplier

	// rootBacking is the 4KiB block of physical storage retyped into
	// the root table object itself. It was allocated from the
	// bootstrap cspace's own supplier (create mints this Handle's root
	// table out of bootstrap-owned storage, not its own) and is
	// released back to that same supplier on Destroy — see DESIGN.md
	// "Supplier symmetry on Destroy".
	rootBacking Untyped

	// selfSlot is the slot name, valid in the bootstrap cspace's own
	// addressing, of the minted self-referencing capability for this
	// Handle's root table. Its guard makes it directly usable as the
	// `root` argument whenever an operation addresses into this
	// Handle's own table.
	selfSlot SlotName

	topBitmap *bitmap.Index
	nodes     []*bottomLevelNode
	wm        watermark

	destroyed bool

	log *log.Entry
}

// Stats is a point-in-time snapshot of a cspace's occupancy: a natural,
// read-only addition for tests and operational tooling.
type Stats struct {
	Mode Mode

	// TopSlots is the cspace's total slot capacity, or 0 for a
	// TwoLevel cspace, whose addressable range grows as further
	// second-level tables materialize rather than being fixed up front.
	TopSlots           uint
	TopSlotsUsed       uint
	MaterializedTables int
}

// Stats reports h's current occupancy without mutating any state.
func (h *Handle) Stats() Stats {
	used := uint(0)
	for i := uint(0); i < h.topBitmap.Width(); i++ {
		if h.topBitmap.IsSet(i) {
			used++
		}
	}
	tables := 0
	for _, n := range h.nodes {
		tables += len(n.tables)
	}

	// TopSlots names the cspace's total slot capacity. A two-level
	// cspace has no fixed capacity — its addressable range grows as
	// further second-level tables materialize — so TopSlots reports 0
	// for TwoLevel, meaning "grows", rather than the top table's own
	// width (which only ever counts second-level tables, not leaf slots).
	topSlots := h.topBitmap.Width()
	if h.mode == TwoLevel {
		topSlots = 0
	}
	return Stats{Mode: h.mode, TopSlots: topSlots, TopSlotsUsed: used, MaterializedTables: tables}
}

// NewPrimordial wraps an already-existing root table (provided by
// whatever bootstraps the very first cspace in a protection domain,
// e.g. the kernel's initial thread setup) into a Handle with no
// bootstrap of its own. The primordial cspace has no bootstrap and
// therefore can never be destroyed.
//
// Every other constructor here (CreateOneLevel, CreateTwoLevel)
// requires an existing bootstrap cspace; something has to seed the
// very first Handle before any of those calls can run, and this is it.
func NewPrimordial(kernel KernelOps, supplier Supplier, mode Mode, rootSelfSlot SlotName, preAllocated uint) *Handle {
	h := &Handle{
		mode:      mode,
		kernel:    kernel,
		supplier:  supplier,
		selfSlot:  rootSelfSlot,
		topBitmap: bitmap.New(SlotsPerTable),
		log:       log.WithField("component", "cspace"),
	}
	if mode == TwoLevel {
		h.nodes = make([]*bottomLevelNode, 0, maxNodes)
	}
	for i := uint(0); i < preAllocated; i++ {
		h.topBitmap.Set(i)
	}
	return h
}

// rootTableSizeBits is the size, in slot-bits, of a root table at
// either level. Both modes use a SlotBits-wide root table; two-level mode
// simply treats each root slot as the index of a further table rather
// than a leaf.
const rootTableSizeBits = SlotBits

func addressingDepth(mode Mode) uint64 {
	if mode == TwoLevel {
		return wordBits - 2*SlotBits
	}
	return wordBits - SlotBits
}

// CreateOneLevel mints a new one-level cspace whose root table (and
// all bookkeeping slots consumed while creating it) live in bootstrap.
func CreateOneLevel(bootstrap *Handle, kernel KernelOps) (*Handle, error) {
	return create(bootstrap, kernel, Supplier{}, OneLevel)
}

// CreateTwoLevel mints a new two-level cspace. supplier is the
// untyped/frame-mapping collaborator used to lazily materialize this
// cspace's own second-level tables as it grows.
func CreateTwoLevel(bootstrap *Handle, kernel KernelOps, supplier Supplier) (*Handle, error) {
	return create(bootstrap, kernel, supplier, TwoLevel)
}

func create(bootstrap *Handle, kernel KernelOps, supplier Supplier, mode Mode) (*Handle, error) {
	if bootstrap == nil {
		return nil, Error("cspace: create requires a bootstrap cspace")
	}

	h := &Handle{
		mode:      mode,
		bootstrap: bootstrap,
		kernel:    kernel,
		supplier:  supplier,
		topBitmap: bitmap.New(SlotsPerTable),
		log:       log.WithField("component", "cspace"),
	}
	if mode == TwoLevel {
		h.nodes = make([]*bottomLevelNode, 0, maxNodes)
	}

	rootBacking, ok := bootstrap.supplier.alloc4k()
	if !ok {
		return nil, ErrSupplierExhausted
	}

	tmp, err := bootstrap.AllocSlot()
	if err != nil {
		bootstrap.supplier.free4k(rootBacking)
		return nil, wrap(err, "create: alloc bootstrap slot for root table")
	}

	if err := bootstrap.Retype(rootBacking, tmp, ObjectCNode, rootTableSizeBits); err != nil {
		bootstrap.FreeSlot(tmp)
		bootstrap.supplier.free4k(rootBacking)
		return nil, wrap(err, "create: retype root table")
	}

	selfSlot, err := bootstrap.AllocSlot()
	if err != nil {
		_ = kernel.Delete(bootstrap.selfSlot, tmp)
		bootstrap.FreeSlot(tmp)
		bootstrap.supplier.free4k(rootBacking)
		return nil, wrap(err, "create: alloc self-cap slot")
	}

	// The guard word's size equals the addressing depth still owed
	// after this table's own SlotBits (or 2*SlotBits) of lookup, so
	// that the total path length equals the machine word width.
	if err := kernel.Mint(bootstrap.selfSlot, selfSlot, bootstrap.selfSlot, tmp, AllRights, addressingDepth(mode)); err != nil {
		bootstrap.FreeSlot(selfSlot)
		_ = kernel.Delete(bootstrap.selfSlot, tmp)
		bootstrap.FreeSlot(tmp)
		bootstrap.supplier.free4k(rootBacking)
		return nil, wrap(err, "create: mint root self-capability")
	}

	_ = kernel.Delete(bootstrap.selfSlot, tmp)
	bootstrap.FreeSlot(tmp)

	h.rootBacking = rootBacking
	h.selfSlot = selfSlot

	if mode == TwoLevel {
		if err := h.bootstrapFirstTable(); err != nil {
			h.unwindCreate()
			return nil, err
		}
	} else {
		if name, err := h.AllocSlot(); err != nil || name != NullCap {
			h.unwindCreate()
			return nil, Error("cspace: failed to reserve slot 0 on creation")
		}
	}

	return h, nil
}

// bootstrapFirstTable implements the bootstrap edge case: the
// very first materialization call happens before slot 0 itself is
// reserved, so its watermark consumption can't be tracked precisely.
// It materializes the table covering slot 0, reserves slot 0, and then
// unconditionally refills every watermark entry.
func (h *Handle) bootstrapFirstTable() error {
	var discarded uint32
	if err := h.ensureLevels(makeSlot(0, 0), &discarded); err != nil {
		return err
	}

	name, err := h.AllocSlot()
	if err != nil || name != NullCap {
		return Error("cspace: failed to reserve slot 0 during two-level bootstrap")
	}

	h.wm.refill(h, fullMask())
	return nil
}

// unwindCreate releases the root table resources acquired by create
// when a later bootstrap step fails. It is the terminal failure path
// for cspace creation itself, not for ordinary allocation.
func (h *Handle) unwindCreate() {
	_ = h.kernel.Delete(h.bootstrap.selfSlot, h.selfSlot)
	h.bootstrap.FreeSlot(h.selfSlot)
	h.bootstrap.supplier.free4k(h.rootBacking)
}

// Destroy releases every second-level table, every bookkeeping frame,
// the root table, and this Handle's own bitmap storage back into its
// bootstrap cspace. Destroying the primordial cspace (no bootstrap) is
// a fatal misuse: the cspace manager cannot continue meaningfully, so
// Destroy panics rather than returning an error a caller might
// accidentally ignore.
func (h *Handle) Destroy() {
	if h.bootstrap == nil {
		h.log.Error("attempted to destroy the primordial cspace")
		panic(ErrPrimordialDestroy)
	}
	if h.destroyed {
		return
	}

	for _, n := range h.nodes {
		for _, t := range n.tables {
			h.supplier.free4k(t.untyped)
		}
		_ = h.kernel.Delete(h.bootstrap.selfSlot, n.frameSlot)
		h.bootstrap.FreeSlot(n.frameSlot)
		h.bootstrap.supplier.free4k(n.frameUntyped)
	}

	_ = h.kernel.Delete(h.bootstrap.selfSlot, h.selfSlot)
	h.bootstrap.FreeSlot(h.selfSlot)
	h.bootstrap.supplier.free4k(h.rootBacking)

	h.nodes = nil
	h.topBitmap = nil
	h.destroyed = true
}
