package stream

import (
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// utf8Decoder decodes a byte stream incrementally. A multi-byte sequence split
// across chunk boundaries is carried over to the next call instead of being
// replaced; invalid bytes become U+FFFD.
type utf8Decoder struct {
	t     transform.Transformer
	carry []byte
}

func newUTF8Decoder() *utf8Decoder {
	return &utf8Decoder{t: unicode.UTF8.NewDecoder()}
}

// Decode converts chunk (plus any carried bytes) to text. When final is true
// a dangling partial sequence is flushed as U+FFFD.
func (d *utf8Decoder) Decode(chunk []byte, final bool) string {
	src := make([]byte, 0, len(d.carry)+len(chunk))
	src = append(src, d.carry...)
	src = append(src, chunk...)
	d.carry = nil
	if len(src) == 0 {
		return ""
	}

	dst := make([]byte, 3*len(src)+utf8.UTFMax)
	out := make([]byte, 0, len(src))
	for len(src) > 0 {
		nDst, nSrc, err := d.t.Transform(dst, src, final)
		out = append(out, dst[:nDst]...)
		src = src[nSrc:]
		if err == transform.ErrShortDst && (nDst > 0 || nSrc > 0) {
			continue
		}
		break
	}
	if len(src) > 0 {
		d.carry = append([]byte(nil), src...)
	}
	return string(out)
}

// Pending reports how many undecoded bytes are being held back.
func (d *utf8Decoder) Pending() int { return len(d.carry) }

func (d *utf8Decoder) Reset() {
	d.t.Reset()
	d.carry = nil
}
