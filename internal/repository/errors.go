// Package repository defines the MySQL persistence layer and the sentinel
// errors shared across its repositories.  Higher layers such as the
// settlement service and the HTTP handlers match these with errors.Is.
package repository

import "errors"

// ErrOrderNotFound is returned when no order has the requested id.
var ErrOrderNotFound = errors.New("order not found")

// ErrStateConflict is returned when a compare-and-set write finds the row
// has already moved past the expected state, typically because an
// overlapping settlement run got there first.
var ErrStateConflict = errors.New("state conflict")

// ErrSlotTaken is returned when marking a slot won would give its
// contention key a second winner.
var ErrSlotTaken = errors.New("slot already won by another order")

// ErrDuplicateOrder is returned when an order id is reused.
var ErrDuplicateOrder = errors.New("duplicate order")
