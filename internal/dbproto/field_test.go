package dbproto

import (
	"bytes"
	"testing"
)

func TestReadNumberSignExtends(t *testing.T) {
	tests := []struct {
		name  string
		width int
		wire  []byte
		want  uint32
	}{
		{"1-byte positive", 1, []byte{0x7f}, 0x0000007f},
		{"1-byte negative", 1, []byte{0xff}, 0xffffffff}, // -1
		{"2-byte negative", 2, []byte{0xbe, 0xef}, 0xffffbeef},
		{"4-byte top bit set stays as-is", 4, []byte{0x80, 0, 0, 1}, 0x80000001},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := readNumber(bytes.NewReader(tt.wire), tt.width)
			if err != nil {
				t.Fatalf("readNumber: %v", err)
			}
			if f.Number != tt.want {
				t.Errorf("Number = %#x, want %#x", f.Number, tt.want)
			}
		})
	}
}

func TestFieldRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		f    Field
	}{
		{"number1", NewNumber(0x7f, 1)},
		{"number2", NewNumber(0x3eef, 2)},
		{"number4", NewNumber4(0xdeadbeef)},
		{"number4 zero", NewNumber4(0)},
		{"binary", NewBinary([]byte{1, 2, 3, 4, 5})},
		{"binary empty", NewBinary(nil)},
		{"string ascii", NewString("Track Title")},
		{"string empty", NewString("")},
		{"string unicode", NewString("Über Müsic")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire := EncodeField(tt.f)
			got, err := ReadField(bytes.NewReader(wire))
			if err != nil {
				t.Fatalf("ReadField: %v", err)
			}
			if got.Kind != tt.f.Kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.f.Kind)
			}
			switch tt.f.Kind {
			case KindNumber:
				if got.Number != tt.f.Number {
					t.Errorf("Number = %d, want %d", got.Number, tt.f.Number)
				}
				if got.NumberWidth != tt.f.NumberWidth {
					t.Errorf("NumberWidth = %d, want %d", got.NumberWidth, tt.f.NumberWidth)
				}
			case KindBinary:
				if !bytes.Equal(got.Binary, tt.f.Binary) {
					t.Errorf("Binary = %v, want %v", got.Binary, tt.f.Binary)
				}
			case KindString:
				if got.String != tt.f.String {
					t.Errorf("String = %q, want %q", got.String, tt.f.String)
				}
			}
		})
	}
}

func TestReadFieldUnknownTag(t *testing.T) {
	_, err := ReadField(bytes.NewReader([]byte{0x99}))
	if err == nil {
		t.Fatal("expected error for unknown tag")
	}
}

func TestStringLengthIsUTF16CodeUnits(t *testing.T) {
	// "AB" encodes as 2 UTF-16 code units + 1 NUL terminator = 3 units,
	// i.e. a declared length of 3 and 6 bytes of UTF-16BE payload.
	wire := EncodeField(NewString("AB"))
	// tag(1) + length(4) + 3 units * 2 bytes = 11
	if len(wire) != 1+4+6 {
		t.Fatalf("wire length = %d, want %d", len(wire), 1+4+6)
	}
}
