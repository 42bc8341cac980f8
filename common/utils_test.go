package common

import (
	"testing"
)

func TestUtilsIsEmpty(t *testing.T) {

	if !IsEmpty("") {
		t.Fatal("Empty string is not empty")
	}
	if !IsEmpty("   ") {
		t.Fatal("Blank string is not empty")
	}
	if IsEmpty("value") {
		t.Fatal("String is empty")
	}
}

func TestUtilsGetCallerInfo(t *testing.T) {

	function, file, line := GetCallerInfo(2)
	if IsEmpty(function) || IsEmpty(file) {
		t.Fatal("Wrong caller info")
	}
	if line <= 0 {
		t.Fatal("Wrong caller line")
	}
}

func TestUtilsHasElem(t *testing.T) {

	if !HasElem([]string{"one", "two"}, "two") {
		t.Fatal("Element is not found")
	}
	if HasElem([]string{"one", "two"}, "three") {
		t.Fatal("Element is found")
	}
	if HasElem("not a slice", "one") {
		t.Fatal("Element is found in not a slice")
	}
}

func TestUtilsGetGuid(t *testing.T) {

	guid := GetGuid()
	if IsEmpty(guid) {
		t.Fatal("Guid is empty")
	}
	if guid == GetGuid() {
		t.Fatal("Guid is not unique")
	}
}
