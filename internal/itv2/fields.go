package itv2

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"golang.org/x/text/encoding/unicode"
)

// The codec is a pure walk over a record's field list. Each field carries a
// read and a write closure bound to the record instance; encode appends to
// a buffer, decode advances an offset cursor. Integer wire order is
// big-endian throughout.

type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) take(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, &EncodingError{Reason: "short payload"}
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

type writer struct {
	buf bytes.Buffer
}

type field struct {
	name  string
	read  func(*reader) error
	write func(*writer) error
}

func encodeFields(fs []field) ([]byte, error) {
	var w writer
	for _, f := range fs {
		if err := f.write(&w); err != nil {
			return nil, fmt.Errorf("field %s: %w", f.name, err)
		}
	}
	return w.buf.Bytes(), nil
}

// decodeFields reads the field list from data. Trailing bytes beyond the
// declared layout are ignored; block-cipher padding lands there.
func decodeFields(fs []field, data []byte) error {
	r := &reader{buf: data}
	for _, f := range fs {
		if err := f.read(r); err != nil {
			return fmt.Errorf("field %s: %w", f.name, err)
		}
	}
	return nil
}

// --- integer primitives ---

func u8[T ~uint8](name string, p *T) field {
	return field{
		name: name,
		read: func(r *reader) error {
			b, err := r.take(1)
			if err != nil {
				return err
			}
			*p = T(b[0])
			return nil
		},
		write: func(w *writer) error {
			w.buf.WriteByte(byte(*p))
			return nil
		},
	}
}

func i8(name string, p *int8) field {
	return field{
		name: name,
		read: func(r *reader) error {
			b, err := r.take(1)
			if err != nil {
				return err
			}
			*p = int8(b[0])
			return nil
		},
		write: func(w *writer) error {
			w.buf.WriteByte(byte(*p))
			return nil
		},
	}
}

func u16be[T ~uint16](name string, p *T) field {
	return field{
		name: name,
		read: func(r *reader) error {
			b, err := r.take(2)
			if err != nil {
				return err
			}
			*p = T(binary.BigEndian.Uint16(b))
			return nil
		},
		write: func(w *writer) error {
			var b [2]byte
			binary.BigEndian.PutUint16(b[:], uint16(*p))
			w.buf.Write(b[:])
			return nil
		},
	}
}

func i16be(name string, p *int16) field {
	return field{
		name: name,
		read: func(r *reader) error {
			b, err := r.take(2)
			if err != nil {
				return err
			}
			*p = int16(binary.BigEndian.Uint16(b))
			return nil
		},
		write: func(w *writer) error {
			var b [2]byte
			binary.BigEndian.PutUint16(b[:], uint16(*p))
			w.buf.Write(b[:])
			return nil
		},
	}
}

func u32be(name string, p *uint32) field {
	return field{
		name: name,
		read: func(r *reader) error {
			b, err := r.take(4)
			if err != nil {
				return err
			}
			*p = binary.BigEndian.Uint32(b)
			return nil
		},
		write: func(w *writer) error {
			var b [4]byte
			binary.BigEndian.PutUint32(b[:], *p)
			w.buf.Write(b[:])
			return nil
		},
	}
}

func i32be(name string, p *int32) field {
	return field{
		name: name,
		read: func(r *reader) error {
			b, err := r.take(4)
			if err != nil {
				return err
			}
			*p = int32(binary.BigEndian.Uint32(b))
			return nil
		},
		write: func(w *writer) error {
			var b [4]byte
			binary.BigEndian.PutUint32(b[:], uint32(*p))
			w.buf.Write(b[:])
			return nil
		},
	}
}

// --- byte arrays ---

// bytesFixed reads or writes exactly n bytes; writes are right-padded with
// zero or truncated to fit.
func bytesFixed(name string, p *[]byte, n int) field {
	return field{
		name: name,
		read: func(r *reader) error {
			b, err := r.take(n)
			if err != nil {
				return err
			}
			*p = append([]byte(nil), b...)
			return nil
		},
		write: func(w *writer) error {
			b := make([]byte, n)
			copy(b, *p)
			w.buf.Write(b)
			return nil
		},
	}
}

func bytesPrefixed(name string, p *[]byte, prefix int) field {
	return field{
		name: name,
		read: func(r *reader) error {
			n, err := readPrefix(r, prefix)
			if err != nil {
				return err
			}
			b, err := r.take(n)
			if err != nil {
				return err
			}
			*p = append([]byte(nil), b...)
			return nil
		},
		write: func(w *writer) error {
			if err := writePrefix(w, prefix, len(*p)); err != nil {
				return err
			}
			w.buf.Write(*p)
			return nil
		},
	}
}

// bytesRest consumes all remaining payload bytes; must be the last field.
func bytesRest(name string, p *[]byte) field {
	return field{
		name: name,
		read: func(r *reader) error {
			b, _ := r.take(r.remaining())
			*p = append([]byte(nil), b...)
			return nil
		},
		write: func(w *writer) error {
			w.buf.Write(*p)
			return nil
		},
	}
}

func readPrefix(r *reader, prefix int) (int, error) {
	b, err := r.take(prefix)
	if err != nil {
		return 0, err
	}
	if prefix == 1 {
		return int(b[0]), nil
	}
	return int(binary.BigEndian.Uint16(b)), nil
}

func writePrefix(w *writer, prefix, n int) error {
	switch prefix {
	case 1:
		if n > 0xFF {
			return &EncodingError{Reason: "length exceeds one-byte prefix"}
		}
		w.buf.WriteByte(byte(n))
	case 2:
		if n > 0xFFFF {
			return &EncodingError{Reason: "length exceeds two-byte prefix"}
		}
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(n))
		w.buf.Write(b[:])
	default:
		return &EncodingError{Reason: "unsupported prefix width"}
	}
	return nil
}

// --- strings ---

var utf16LE = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// utf16String carries a UTF-16LE string behind a big-endian byte-length
// prefix. The prefix counts encoded bytes, not characters.
func utf16String(name string, p *string, prefix int) field {
	return field{
		name: name,
		read: func(r *reader) error {
			n, err := readPrefix(r, prefix)
			if err != nil {
				return err
			}
			b, err := r.take(n)
			if err != nil {
				return err
			}
			s, err := utf16LE.NewDecoder().Bytes(b)
			if err != nil {
				return &EncodingError{Reason: "invalid UTF-16 payload"}
			}
			*p = string(s)
			return nil
		},
		write: func(w *writer) error {
			b, err := utf16LE.NewEncoder().Bytes([]byte(*p))
			if err != nil {
				return &EncodingError{Reason: "string not encodable as UTF-16"}
			}
			if err := writePrefix(w, prefix, len(b)); err != nil {
				return err
			}
			w.buf.Write(b)
			return nil
		},
	}
}

// --- BCD strings: two decimal digits per byte, high nibble first ---

func bcdEncode(s string, n int) ([]byte, error) {
	digits := []byte(s)
	want := n * 2
	if len(digits) > want {
		return nil, &EncodingError{Reason: "BCD value too long"}
	}
	for len(digits) < want {
		digits = append(digits, '0')
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		hi, lo := digits[i*2], digits[i*2+1]
		if hi < '0' || hi > '9' || lo < '0' || lo > '9' {
			return nil, &EncodingError{Reason: "non-decimal BCD digit"}
		}
		out[i] = (hi-'0')<<4 | (lo - '0')
	}
	return out, nil
}

func bcdDecode(b []byte) (string, error) {
	out := make([]byte, 0, len(b)*2)
	for _, c := range b {
		hi, lo := c>>4, c&0x0F
		if hi > 9 || lo > 9 {
			return "", &EncodingError{Reason: "non-decimal BCD nibble"}
		}
		out = append(out, hi+'0', lo+'0')
	}
	return string(out), nil
}

// bcdFixed occupies exactly n bytes; shorter values pad right with '0'.
func bcdFixed(name string, p *string, n int) field {
	return field{
		name: name,
		read: func(r *reader) error {
			b, err := r.take(n)
			if err != nil {
				return err
			}
			s, err := bcdDecode(b)
			if err != nil {
				return err
			}
			*p = s
			return nil
		},
		write: func(w *writer) error {
			b, err := bcdEncode(*p, n)
			if err != nil {
				return err
			}
			w.buf.Write(b)
			return nil
		},
	}
}

// bcdRest consumes the remaining payload and strips trailing '0' digits.
func bcdRest(name string, p *string) field {
	return field{
		name: name,
		read: func(r *reader) error {
			b, _ := r.take(r.remaining())
			s, err := bcdDecode(b)
			if err != nil {
				return err
			}
			*p = trimTrailingZeros(s)
			return nil
		},
		write: func(w *writer) error {
			n := (len(*p) + 1) / 2
			b, err := bcdEncode(*p, n)
			if err != nil {
				return err
			}
			w.buf.Write(b)
			return nil
		},
	}
}

// bcdPrefixed carries a one-byte count of BCD bytes.
func bcdPrefixed(name string, p *string) field {
	return field{
		name: name,
		read: func(r *reader) error {
			n, err := readPrefix(r, 1)
			if err != nil {
				return err
			}
			b, err := r.take(n)
			if err != nil {
				return err
			}
			s, err := bcdDecode(b)
			if err != nil {
				return err
			}
			*p = s
			return nil
		},
		write: func(w *writer) error {
			n := (len(*p) + 1) / 2
			if err := writePrefix(w, 1, n); err != nil {
				return err
			}
			b, err := bcdEncode(*p, n)
			if err != nil {
				return err
			}
			w.buf.Write(b)
			return nil
		},
	}
}

func trimTrailingZeros(s string) string {
	for len(s) > 0 && s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	return s
}

// --- packed DateTime ---

// 32 bits, MSB to LSB: hour(5) minute(6) second(6) year-2000(6) month(4)
// day(5). Valid years 2000..2063.
func packedTime(name string, p *time.Time) field {
	return field{
		name: name,
		read: func(r *reader) error {
			b, err := r.take(4)
			if err != nil {
				return err
			}
			v := binary.BigEndian.Uint32(b)
			hour := int(v >> 27 & 0x1F)
			minute := int(v >> 21 & 0x3F)
			second := int(v >> 15 & 0x3F)
			year := 2000 + int(v>>9&0x3F)
			month := int(v >> 5 & 0x0F)
			day := int(v & 0x1F)
			*p = time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC)
			return nil
		},
		write: func(w *writer) error {
			t := *p
			if t.Year() < 2000 || t.Year() > 2063 {
				return &EncodingError{Reason: "year outside 2000-2063"}
			}
			v := uint32(t.Hour())<<27 |
				uint32(t.Minute())<<21 |
				uint32(t.Second())<<15 |
				uint32(t.Year()-2000)<<9 |
				uint32(t.Month())<<5 |
				uint32(t.Day())
			var b [4]byte
			binary.BigEndian.PutUint32(b[:], v)
			w.buf.Write(b[:])
			return nil
		},
	}
}

// --- compact integers ---

// One-byte length then the minimal big-endian significant bytes. Unsigned
// values strip leading 0x00; signed values strip sign-preserving runs of
// 0x00 or 0xFF.

func compactUintBytes(v uint64, size int) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	b = b[8-size:]
	for len(b) > 1 && b[0] == 0x00 {
		b = b[1:]
	}
	return b
}

func compactIntBytes(v int64, size int) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	b = b[8-size:]
	for len(b) > 1 {
		if b[0] == 0x00 && b[1]&0x80 == 0 {
			b = b[1:]
			continue
		}
		if b[0] == 0xFF && b[1]&0x80 != 0 {
			b = b[1:]
			continue
		}
		break
	}
	return b
}

func readCompact(r *reader, size int) ([]byte, error) {
	n, err := readPrefix(r, 1)
	if err != nil {
		return nil, err
	}
	if n > size {
		return nil, &EncodingError{Reason: "compact integer wider than target"}
	}
	return r.take(n)
}

func compactUint[T ~uint16 | ~uint32](name string, p *T, size int) field {
	return field{
		name: name,
		read: func(r *reader) error {
			b, err := readCompact(r, size)
			if err != nil {
				return err
			}
			var v uint64
			for _, c := range b {
				v = v<<8 | uint64(c)
			}
			*p = T(v)
			return nil
		},
		write: func(w *writer) error {
			b := compactUintBytes(uint64(*p), size)
			w.buf.WriteByte(byte(len(b)))
			w.buf.Write(b)
			return nil
		},
	}
}

func compactInt[T ~int16 | ~int32](name string, p *T, size int) field {
	return field{
		name: name,
		read: func(r *reader) error {
			b, err := readCompact(r, size)
			if err != nil {
				return err
			}
			var v int64
			if len(b) > 0 && b[0]&0x80 != 0 {
				v = -1
			}
			for _, c := range b {
				v = v<<8 | int64(c)
			}
			*p = T(v)
			return nil
		},
		write: func(w *writer) error {
			b := compactIntBytes(int64(*p), size)
			w.buf.WriteByte(byte(len(b)))
			w.buf.Write(b)
			return nil
		},
	}
}

func compactU16(name string, p *uint16) field { return compactUint(name, p, 2) }
func compactU32(name string, p *uint32) field { return compactUint(name, p, 4) }
func compactI16(name string, p *int16) field  { return compactInt(name, p, 2) }
func compactI32(name string, p *int32) field  { return compactInt(name, p, 4) }

// --- bit-field groups ---

type bitSpec struct {
	pos, width int
	get        func() uint32
	set        func(uint32)
}

func bitBool(p *bool, pos int) bitSpec {
	return bitSpec{
		pos:   pos,
		width: 1,
		get: func() uint32 {
			if *p {
				return 1
			}
			return 0
		},
		set: func(v uint32) { *p = v != 0 },
	}
}

func bitUint[T ~uint8 | ~uint16](p *T, pos, width int) bitSpec {
	return bitSpec{
		pos:   pos,
		width: width,
		get:   func() uint32 { return uint32(*p) },
		set:   func(v uint32) { *p = T(v) },
	}
}

// bitfield packs its specs into one big-endian integer of size bytes.
// Positions index bits from the LSB.
func bitfield(name string, size int, specs ...bitSpec) field {
	return field{
		name: name,
		read: func(r *reader) error {
			b, err := r.take(size)
			if err != nil {
				return err
			}
			var v uint32
			for _, c := range b {
				v = v<<8 | uint32(c)
			}
			for _, s := range specs {
				mask := uint32(1)<<s.width - 1
				s.set(v >> s.pos & mask)
			}
			return nil
		},
		write: func(w *writer) error {
			var v uint32
			for _, s := range specs {
				mask := uint32(1)<<s.width - 1
				v |= (s.get() & mask) << s.pos
			}
			for i := size - 1; i >= 0; i-- {
				w.buf.WriteByte(byte(v >> (8 * i)))
			}
			return nil
		},
	}
}

// --- object arrays ---

// objectArray nests sub-records behind a count prefix; each element's own
// field list determines its byte length.
func objectArray[T any](name string, p *[]T, prefix int, fieldsOf func(*T) []field) field {
	return field{
		name: name,
		read: func(r *reader) error {
			n, err := readPrefix(r, prefix)
			if err != nil {
				return err
			}
			out := make([]T, n)
			for i := 0; i < n; i++ {
				for _, f := range fieldsOf(&out[i]) {
					if err := f.read(r); err != nil {
						return fmt.Errorf("element %d, %s: %w", i, f.name, err)
					}
				}
			}
			*p = out
			return nil
		},
		write: func(w *writer) error {
			if err := writePrefix(w, prefix, len(*p)); err != nil {
				return err
			}
			for i := range *p {
				for _, f := range fieldsOf(&(*p)[i]) {
					if err := f.write(w); err != nil {
						return fmt.Errorf("element %d, %s: %w", i, f.name, err)
					}
				}
			}
			return nil
		},
	}
}
