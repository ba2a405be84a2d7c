// Package cspace implements a userspace capability-space (cspace) manager
// for a seL4-style microkernel: a lazily materialized, two-level name
// table of capability slots, plus the one-level variant used for small
// or primordial address spaces.
//
// A Handle owns a root table and, in two-level mode, a growable
// directory of second-level tables that are only materialized on first
// use. Materializing a second-level table requires mapping a bookkeeping
// frame into the cspace's own address space, which itself may require
// free slots — the watermark (see the watermark type) breaks that cycle
// by keeping a small standing reserve of slots funded ahead of time and
// refilled after each operation completes.
//
// The package never allocates physical memory or talks to the kernel
// directly; both are supplied by the caller through the Supplier and
// KernelOps collaborator interfaces so that tests can substitute fakes.
package cspace
