package crc791

import "testing"

func TestChecksumZeroOverOwnField(t *testing.T) {
	// A correctly-checksummed IPv4-style header sums to 0xffff (all ones)
	// when the checksum field itself is included.
	hdr := []byte{
		0x45, 0x00, 0x00, 0x3c,
		0x1c, 0x46, 0x40, 0x00,
		0x40, 0x06, 0x00, 0x00, // checksum field zeroed for calc
		0xac, 0x10, 0x0a, 0x63,
		0xac, 0x10, 0x0a, 0x0c,
	}
	var c CRC791
	c.Write(hdr)
	sum := c.Sum16()

	hdr[10] = byte(sum >> 8)
	hdr[11] = byte(sum)

	var c2 CRC791
	c2.Write(hdr)
	if got := c2.Sum16(); got != 0 {
		t.Fatalf("expected verifying checksum to be 0, got %#x", got)
	}
}

func TestNeverZero(t *testing.T) {
	if NeverZero(0) != 0xffff {
		t.Fatal("expected 0 to map to 0xffff")
	}
	if NeverZero(0x1234) != 0x1234 {
		t.Fatal("non-zero value should pass through unchanged")
	}
}
