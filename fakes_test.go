package cspace

// fakeKernel is a minimal KernelOps that succeeds unless told to fail;
// it knows nothing about seL4 capability semantics and only records
// the node/depth/offset addressing of the most recent Retype call.
type fakeKernel struct {
	retypeFail bool
	mintFail   bool

	lastRetypeNode, lastRetypeDepth, lastRetypeOffset uint64
}

func (k *fakeKernel) Retype(root SlotName, node, depth, offset uint64, count uint, untyped Untyped, objType ObjectType, sizeBits uint) error {
	k.lastRetypeNode, k.lastRetypeDepth, k.lastRetypeOffset = node, depth, offset
	if k.retypeFail {
		return Error("fake: retype rejected")
	}
	return nil
}

func (k *fakeKernel) Mint(destRoot, dest, srcRoot, src SlotName, rights Rights, guard uint64) error {
	if k.mintFail {
		return Error("fake: mint rejected")
	}
	return nil
}

func (k *fakeKernel) Delete(root SlotName, slot SlotName) error { return nil }

// fakeSupplier hands out monotonically increasing Untyped ids and
// tracks alloc/free counts so tests can assert the "no retention"
// property: every alloc_4k is matched by exactly one
// free_4k by the time Destroy returns.
type fakeSupplier struct {
	nextID      uint64
	allocCount  int
	freeCount   int
	failAtCall  int // 1-indexed Alloc4k call number to fail, 0 = never
	mapConsumed uint32
	mapFail     bool
}

func newFakeSupplier() *fakeSupplier {
	return &fakeSupplier{}
}

func (f *fakeSupplier) repair() { f.failAtCall = 0 }

func (f *fakeSupplier) asSupplier() Supplier {
	return Supplier{
		Cookie: f,
		Alloc4k: func(cookie any) (Untyped, bool) {
			fs := cookie.(*fakeSupplier)
			fs.allocCount++
			if fs.failAtCall != 0 && fs.allocCount == fs.failAtCall {
				return InvalidUntyped, false
			}
			id := fs.nextID
			fs.nextID++
			return Untyped(id), true
		},
		Free4k: func(cookie any, u Untyped) {
			cookie.(*fakeSupplier).freeCount++
		},
		MapFrame: func(cookie any, frame SlotName, freeSlots [WatermarkSlots]SlotName) (uintptr, uint32, bool) {
			fs := cookie.(*fakeSupplier)
			if fs.mapFail {
				return 0, 0, false
			}
			return 0x1000, fs.mapConsumed, true
		},
	}
}

// newPrimordialForTest builds a one-level bootstrap cspace backed by
// supplier, large enough to host nested create/destroy calls across
// every test in this package.
func newPrimordialForTest(kernel KernelOps, supplier *fakeSupplier) *Handle {
	return NewPrimordial(kernel, supplier.asSupplier(), OneLevel, SlotName(1), 1)
}
