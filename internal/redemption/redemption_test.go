package redemption

import (
	"encoding/hex"
	"testing"
)

func TestConditionIDBytesPadsShortHex(t *testing.T) {
	t.Parallel()
	got, err := conditionIDBytes("0xabc")
	if err != nil {
		t.Fatalf("conditionIDBytes: %v", err)
	}
	want := "0000000000000000000000000000000000000000000000000000000000000abc"
	if hex.EncodeToString(got[:]) != want {
		t.Errorf("got %x, want %s", got, want)
	}
}

func TestConditionIDBytesRejectsInvalidHex(t *testing.T) {
	t.Parallel()
	if _, err := conditionIDBytes("0xzzzz"); err == nil {
		t.Fatal("expected an error for non-hex input")
	}
}

func TestConditionIDBytesAcceptsFullLength(t *testing.T) {
	t.Parallel()
	full := "1234567890123456789012345678901234567890123456789012345678901234"[:64]
	got, err := conditionIDBytes("0x" + full)
	if err != nil {
		t.Fatalf("conditionIDBytes: %v", err)
	}
	if hex.EncodeToString(got[:]) != full {
		t.Errorf("got %x, want %s", got, full)
	}
}
