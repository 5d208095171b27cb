package oop_test

import (
	"testing"

	"github.com/devhawala/ST80-sub000/internal/oop"
)

type oopName struct {
	name string
	val  oop.OOP
}

func namedWellKnowns() []oopName {
	names := []oopName{
		{"NilPointer", oop.NilPointer},
		{"TruePointer", oop.TruePointer},
		{"FalsePointer", oop.FalsePointer},
		{"ClassSmallIntegerPointer", oop.ClassSmallIntegerPointer},
		{"ClassStringPointer", oop.ClassStringPointer},
		{"ClassArrayPointer", oop.ClassArrayPointer},
		{"ClassFloatPointer", oop.ClassFloatPointer},
		{"ClassMethodContextPointer", oop.ClassMethodContextPointer},
		{"ClassBlockContextPointer", oop.ClassBlockContextPointer},
		{"ClassPointPointer", oop.ClassPointPointer},
		{"ClassLargePositiveIntegerPointer", oop.ClassLargePositiveIntegerPointer},
		{"ClassMessagePointer", oop.ClassMessagePointer},
		{"ClassCharacterPointer", oop.ClassCharacterPointer},
		{"ClassCompiledMethodPointer", oop.ClassCompiledMethodPointer},
		{"ClassSymbolPointer", oop.ClassSymbolPointer},
		{"ClassSemaphorePointer", oop.ClassSemaphorePointer},
		{"SchedulerAssociationPointer", oop.SchedulerAssociationPointer},
		{"SpecialSelectorsPointer", oop.SpecialSelectorsPointer},
		{"CharacterTablePointer", oop.CharacterTablePointer},
		{"DoesNotUnderstandSelectorPointer", oop.DoesNotUnderstandSelectorPointer},
		{"MustBeBooleanSelectorPointer", oop.MustBeBooleanSelectorPointer},
		{"CannotReturnSelectorPointer", oop.CannotReturnSelectorPointer},
	}
	return names
}

// TestWellKnownPointersAreNeverIntegersUnderEitherScheme guards the
// collision a scheme-agnostic "every slot is a multiple of 2" numbering
// would reintroduce: under Stretch, only values whose low two bits are
// not 00 are valid object pointers, so half of an iota*2 numbering
// (including NilPointer itself) would misreport as SmallInteger 0, 2,
// 4, ... via IsIntegerObject.
func TestWellKnownPointersAreNeverIntegersUnderEitherScheme(t *testing.T) {
	for _, scheme := range []oop.Scheme{oop.Classic, oop.Stretch} {
		for _, c := range namedWellKnowns() {
			if oop.IsIntegerObject(c.val, scheme) {
				t.Errorf("IsIntegerObject(%s=%d, %s) = true, want false", c.name, c.val, scheme)
			}
		}
	}
}

// TestFirstWellKnownUserSlotIsNeverAnInteger confirms the boundary
// constant itself (the first index the object-table allocator hands
// out) carries the same non-integer tag pattern as the fixed names
// before it, under both schemes.
func TestFirstWellKnownUserSlotIsNeverAnInteger(t *testing.T) {
	for _, scheme := range []oop.Scheme{oop.Classic, oop.Stretch} {
		if oop.IsIntegerObject(oop.FirstWellKnownUserSlot, scheme) {
			t.Errorf("IsIntegerObject(FirstWellKnownUserSlot=%d, %s) = true, want false",
				oop.FirstWellKnownUserSlot, scheme)
		}
	}
}
