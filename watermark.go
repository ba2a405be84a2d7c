package cspace

import log "github.com/sirupsen/logrus"

// watermark is the small pre-reserved pool of slots that funds the
// materialization protocol. It exists purely to break the cycle between
// "materializing a second-level table" and "the mapping call that
// materialization requires needing free cspace slots of its own":
// the pool is kept full before any call that may reach the mapper, and
// topped back up only after the caller's own operation has otherwise
// completed, so a refill can never re-enter a half-mutated Handle.
type watermark struct {
	slots [WatermarkSlots]SlotName
}

// fullMask returns a used mask with every entry's bit set, used by
// bootstrapFirstTable to request a full refill in one shot before any
// entry has ever been filled.
func fullMask() uint32 {
	return uint32(1)<<WatermarkSlots - 1
}

// refill tops up every watermark entry whose bit is set in used by
// allocating a fresh slot from h itself. This is the one place a
// materialization call is allowed to recurse into AllocSlot, and it
// does so only after the caller's own AllocSlot/ensureLevels frame has
// returned — see the call sites in AllocSlot (alloc.go) and
// bootstrapFirstTable (handle.go).
func (w *watermark) refill(h *Handle, used uint32) {
	for i := 0; i < WatermarkSlots; i++ {
		if used&(1<<uint(i)) == 0 {
			continue
		}
		name, err := h.AllocSlot()
		if err != nil {
			log.WithFields(log.Fields{"component": "watermark", "index": i}).
				Warn("cspace full while refilling watermark slot")
			w.slots[i] = NullCap
			continue
		}
		w.slots[i] = name
	}
}
