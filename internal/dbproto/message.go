package dbproto

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// StartMagic is the literal 4-byte value that opens every Message.
const StartMagic uint32 = 0x872349ae

// MaxArgs is the maximum number of arguments a Message may carry.
const MaxArgs = 12

// ErrMalformedMessage covers any framing-field mismatch: bad start magic,
// wrong transaction/type/count field widths, an argcount outside 0..12, or
// an argument whose kind doesn't match its declared slot tag.
var ErrMalformedMessage = errors.New("dbproto: malformed message")

// Message is a single framed dbserver request or response (spec.md §3
// "dbserver Message").
type Message struct {
	Transaction uint32
	Type        uint16
	Args        []Field
}

// argTags returns the 12-byte slot-tag vector for m, padding unused slots
// with 0 as spec.md requires.
func (m Message) argTags() [MaxArgs]byte {
	var tags [MaxArgs]byte
	for i, a := range m.Args {
		tags[i] = a.SlotTag()
	}
	return tags
}

// Write serialises m: START, transaction, type, argcount, the 12-byte
// arg-tag vector, then each argument's field bytes in order.
func Write(w io.Writer, m Message) error {
	if len(m.Args) > MaxArgs {
		return fmt.Errorf("%w: %d args exceeds max %d", ErrMalformedMessage, len(m.Args), MaxArgs)
	}
	if err := writeNumber(w, StartMagic, 4); err != nil {
		return err
	}
	if err := writeNumber(w, m.Transaction, 4); err != nil {
		return err
	}
	if err := writeNumber(w, uint32(m.Type), 2); err != nil {
		return err
	}
	if err := writeNumber(w, uint32(len(m.Args)), 1); err != nil {
		return err
	}
	tags := m.argTags()
	if _, err := w.Write([]byte{TagBinary}); err != nil {
		return err
	}
	// The 12-byte tag vector is itself transmitted as a raw Binary-shaped
	// blob: a 4-byte length (always 12) followed by the 12 tag bytes —
	// this mirrors how the rest of the stream is field-tagged even though
	// the tag vector's own shape never varies.
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], MaxArgs)
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(tags[:]); err != nil {
		return err
	}
	for i, a := range m.Args {
		// Zero-length binary special case (spec.md §4.E): a Binary
		// argument with no bytes is transmitted as a bare Number(0) and
		// the binary payload itself is omitted entirely.
		if a.Kind == KindBinary && len(a.Binary) == 0 {
			if err := writeNumber(w, 0, 4); err != nil {
				return fmt.Errorf("write zero-length binary placeholder at arg %d: %w", i, err)
			}
			continue
		}
		if err := WriteField(w, a); err != nil {
			return fmt.Errorf("write arg %d: %w", i, err)
		}
	}
	return nil
}

// Read parses one Message from r, validating every framing field per
// spec.md §4.E.
func Read(r io.Reader) (Message, error) {
	magic, err := readFramingNumber(r, 4)
	if err != nil {
		return Message{}, err
	}
	if magic != StartMagic {
		return Message{}, fmt.Errorf("%w: bad start magic %#x", ErrMalformedMessage, magic)
	}
	txn, err := readFramingNumber(r, 4)
	if err != nil {
		return Message{}, err
	}
	typ, err := readFramingNumber(r, 2)
	if err != nil {
		return Message{}, err
	}
	count, err := readFramingNumber(r, 1)
	if err != nil {
		return Message{}, err
	}
	if count > MaxArgs {
		return Message{}, fmt.Errorf("%w: argcount %d exceeds max %d", ErrMalformedMessage, count, MaxArgs)
	}

	// The 12-byte tag vector itself is framed as a Binary field (tag +
	// 4-byte length + 12 bytes), mirroring Write.
	tagField, err := ReadField(r)
	if err != nil {
		return Message{}, err
	}
	if tagField.Kind != KindBinary || len(tagField.Binary) != MaxArgs {
		return Message{}, fmt.Errorf("%w: tag vector not a 12-byte binary field", ErrMalformedMessage)
	}
	var tags [MaxArgs]byte
	copy(tags[:], tagField.Binary)

	m := Message{Transaction: uint32(txn), Type: uint16(typ)}
	for i := 0; i < int(count); i++ {
		wantSlot := tags[i]
		f, err := readArgument(r, wantSlot)
		if err != nil {
			return Message{}, fmt.Errorf("arg %d: %w", i, err)
		}
		m.Args = append(m.Args, f)
	}
	return m, nil
}

// readArgument reads one Message argument, applying the zero-length
// binary special case: if the declared slot is Binary and the field that
// actually arrives is a Number(0), substitute an empty Binary and do not
// attempt to read a length-prefixed binary body.
func readArgument(r io.Reader, wantSlot byte) (Field, error) {
	f, err := ReadField(r)
	if err != nil {
		return Field{}, err
	}
	if wantSlot == SlotBinary && f.Kind == KindNumber && f.Number == 0 {
		return Field{Kind: KindBinary, Binary: nil}, nil
	}
	if f.SlotTag() != wantSlot {
		return Field{}, fmt.Errorf("%w: arg slot tag %#x does not match declared %#x", ErrMalformedMessage, f.SlotTag(), wantSlot)
	}
	return f, nil
}

// readFramingNumber reads one tagged Number field and requires it to have
// been encoded at exactly the given width, per spec.md's read() validation
// ("size of transaction=4", "size of type=2", "size of count=1").
func readFramingNumber(r io.Reader, width int) (uint32, error) {
	f, err := ReadField(r)
	if err != nil {
		return 0, err
	}
	if f.Kind != KindNumber || f.NumberWidth != width {
		return 0, fmt.Errorf("%w: expected %d-byte number framing field", ErrMalformedMessage, width)
	}
	return f.Number, nil
}

// Encode is a convenience wrapper around Write for callers that already
// hold a buffer (tests, in-memory framing).
func Encode(m Message) []byte {
	var buf bytes.Buffer
	_ = Write(&buf, m)
	return buf.Bytes()
}
