package cspace

import "math"

// SlotName names a leaf slot in a cspace. In two-level
// mode it decomposes as top||bot with bot occupying the low SlotBits
// bits; in one-level mode the whole value indexes the single root
// table.
type SlotName uint64

// NullCap is the sentinel slot name that never names a valid slot.
// Slot 0 is always reserved at cspace creation time specifically so
// that AllocSlot can never hand it out.
const NullCap SlotName = 0

// Untyped is an opaque handle to a 4KiB block of backing storage, as
// returned by Supplier.Alloc4k and consumed by Supplier.Free4k and
// KernelOps.Retype. It carries no meaning to this package beyond
// identity; only the supplier and kernel collaborators interpret it.
//
// A tagged integer with an IsValid/invalid sentinel instead of a
// pointer, preferring index-based handles over a pointer graph.
type Untyped uint64

// InvalidUntyped is returned by a failed Supplier.Alloc4k call.
const InvalidUntyped = Untyped(math.MaxUint64)

// IsValid reports whether u names real backing storage.
func (u Untyped) IsValid() bool { return u != InvalidUntyped }

// ObjectType identifies the kind of kernel object a Retype call
// produces. Only the two kinds materialization itself needs are named
// here; callers of the public Retype operation may use
// ObjectGeneric for any other kernel object type, passed through
// opaquely via KernelOps.
type ObjectType uint8

const (
	// ObjectFrame is a mappable physical page, produced from an
	// untyped when materializing a bookkeeping page.
	ObjectFrame ObjectType = iota

	// ObjectCNode is a second-level (or root) capability table.
	ObjectCNode

	// ObjectGeneric is any other kernel object type; SizeBits is
	// passed through to KernelOps.Retype unmodified.
	ObjectGeneric
)

// Rights describes the access rights minted onto a capability copy.
// Only used by the Mint step during cspace creation.
type Rights uint8

// AllRights grants every right the kernel recognizes; it is the only
// rights value the cspace manager itself ever mints (the root table's
// self-referencing capability).
const AllRights Rights = math.MaxUint8

const (
	// SlotBits is S: the number of low bits of a two-level slot name
	// that select a leaf slot within one second-level table. Also used
	// as the size of the top-level table. 12 bits gives 4096 slots per
	// table.
	SlotBits = 12

	// SlotsPerTable is the number of slots in one table at either
	// level: 1<<SlotBits.
	SlotsPerTable = 1 << SlotBits

	// WatermarkSlots is M: the number of standing reserved slots funded
	// ahead of any call that may recurse into the frame-mapping
	// collaborator. 6 matches the number of intermediate page-table
	// levels a single frame mapping may need to instantiate on a
	// typical two-level hardware MMU.
	WatermarkSlots = 6

	// bookkeepingFrameBytes is the size of the frame a Bottom-Level
	// Node lives in.
	bookkeepingFrameBytes = 4096

	// tableRecordBytes is the bookkeeping footprint of one
	// second-level table record: an Untyped handle plus its
	// SlotsPerTable-bit bitmap.
	tableRecordBytes = 8 + SlotsPerTable/8

	// TablesPerNode is F: how many second-level table records fit in
	// one bookkeeping frame.
	TablesPerNode = bookkeepingFrameBytes / tableRecordBytes

	// maxNodes bounds the node directory so that every possible top
	// index is coverable: ceil(SlotsPerTable / TablesPerNode).
	maxNodes = (SlotsPerTable + TablesPerNode - 1) / TablesPerNode

	// wordBits is the machine word width used to compute the guard
	// depth when minting a root table's self-referencing capability.
	wordBits = 64
)

func topIndex(cptr SlotName) uint64 { return uint64(cptr) >> SlotBits }

func botIndex(cptr SlotName) uint64 { return uint64(cptr) & (SlotsPerTable - 1) }

func nodeIndex(top uint64) uint64 { return top / TablesPerNode }

func tableIndexInNode(top uint64) uint64 { return top % TablesPerNode }

func makeSlot(top, bot uint64) SlotName { return SlotName(top<<SlotBits | bot) }
