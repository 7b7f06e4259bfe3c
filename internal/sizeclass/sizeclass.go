// Package sizeclass maps a requested allocation length to the cell
// length a slab region should serve it with, or signals that the
// request belongs to the direct-map engine instead.
//
// Grounded on the RegionPolicy/AlignmentPolicy tables in
// internal/runtime/region_alloc.go, reworked from a single fixed
// policy into a lazily-populated, two-way class table.
package sizeclass

import (
	"fmt"
	"math/bits"
	"sync"
)

// ClasBits controls how many sub-classes exist between each adjacent
// pair of powers of two above the fixed tiny classes: 1<<ClasBits.
const ClasBits = 2

// DefaultThreshold is the length at or above which a request bypasses
// slabs entirely and goes to the direct-map engine.
const DefaultThreshold = 1 << 16

// Class is a compact identifier for a size class, stable for the
// lifetime of a Table.
type Class uint16

// tiny classes cover the dedicated small sizes named directly in the
// data model, indices 0..5 of every Table.
var tinyLengths = [...]uintptr{2, 4, 8, 16, 24, 32}

const tinyClassCount = Class(len(tinyLengths))

type key struct {
	ord uint8
	sub uint8
}

// Table is a heap's class table: a two-way mapping between Class ids
// and cell lengths, filled lazily on first use and immutable once an
// entry is set, plus the mutable direct-map threshold.
type Table struct {
	mu            sync.Mutex
	lengthByClass map[Class]uintptr
	classByKey    map[key]Class
	next          Class
	threshold     uintptr
}

// NewTable creates a class table with the default direct-map threshold.
func NewTable() *Table {
	t := &Table{
		lengthByClass: make(map[Class]uintptr),
		classByKey:    make(map[key]Class),
		next:          tinyClassCount,
		threshold:     DefaultThreshold,
	}

	for i, length := range tinyLengths {
		t.lengthByClass[Class(i)] = length
	}

	return t
}

// Threshold returns the current direct-map threshold.
func (t *Table) Threshold() uintptr {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.threshold
}

// RaiseThreshold raises the direct-map threshold under memory pressure;
// it never lowers it, since shrinking the threshold would strand
// existing slab regions serving lengths no longer reachable through the
// classifier.
func (t *Table) RaiseThreshold(length uintptr) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if length > t.threshold {
		t.threshold = length
	}
}

// ClassOf classifies length, returning its Class and the cell length a
// slab region serving that class must use. ok is false when length is
// at or above the direct-map threshold, in which case the caller must
// use the direct-map engine instead.
func (t *Table) ClassOf(length uintptr) (class Class, cellLength uintptr, ok bool) {
	if length == 0 {
		length = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if length >= t.threshold {
		return 0, 0, false
	}

	for i, tl := range tinyLengths {
		if length <= tl {
			return Class(i), tl, true
		}
	}

	k, cellLength := classifyAboveTiny(length)

	c, found := t.classByKey[k]
	if !found {
		c = t.next
		t.next++
		t.classByKey[k] = c
		t.lengthByClass[c] = cellLength
	}

	return c, cellLength, true
}

// LengthOf returns the cell length registered for class, or false if
// class was never produced by ClassOf on this table.
func (t *Table) LengthOf(class Class) (uintptr, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	length, ok := t.lengthByClass[class]

	return length, ok
}

// classifyAboveTiny computes the (ord, sub) key and the cell length for
// a request above the largest tiny class. ord is the exponent of the
// smallest power of two at or above length (2^ord >= length); the
// interval (2^(ord-1), 2^ord] is split into 1<<ClasBits equal
// sub-classes.
func classifyAboveTiny(length uintptr) (key, uintptr) {
	ord := bits.Len64(uint64(length - 1))
	lower := uintptr(1) << uint(ord-1)
	step := lower >> ClasBits

	if step == 0 {
		step = 1
	}

	sub := (length - lower + step - 1) / step
	if sub == 0 {
		sub = 1
	}

	max := uintptr(1) << ClasBits
	if sub > max {
		sub = max
	}

	cellLength := lower + sub*step

	return key{ord: uint8(ord), sub: uint8(sub)}, cellLength
}

// MustLengthOf is like LengthOf but panics if class is unknown, for
// call sites that already hold a class id they are certain this table
// produced — a violated invariant here means the class table was
// corrupted or shared across tables.
func (t *Table) MustLengthOf(class Class) uintptr {
	length, ok := t.LengthOf(class)
	if !ok {
		panic(fmt.Sprintf("sizeclass: class %d not registered in this table", class))
	}

	return length
}
