// Package serialization implements the ordered token stream the network
// components persist themselves in. A stream is a strict sequence of
// angle-bracket tokens and values; readers must consume exactly the
// tokens the writer produced, in order, and any mismatch is a fatal
// parse error.
//
// Streams come in two encodings selected at write time. Text streams are
// whitespace-separated and human-readable. Binary streams carry the
// two-byte marker "\x00B" up front and encode values in fixed-width
// little-endian form; the reader detects the marker, so callers never
// state the encoding when reading.
package serialization

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// binaryMarker opens every binary stream.
const binaryMarker = "\x00B"

// Tokens introducing aggregate values.
const (
	vectorToken = "DV"
	matrixToken = "DM"
)

// Writer emits an ordered token stream.
type Writer struct {
	w      *bufio.Writer
	binary bool
	err    error
}

// NewWriter returns a writer over w. When binary is true the binary
// marker is emitted immediately and all values use the binary encoding.
// Call Flush when done.
func NewWriter(w io.Writer, binary bool) *Writer {
	sw := &Writer{w: bufio.NewWriter(w), binary: binary}
	if binary {
		_, sw.err = sw.w.WriteString(binaryMarker)
	}
	return sw
}

// Binary reports the stream encoding.
func (w *Writer) Binary() bool { return w.binary }

// Flush forces buffered output to the underlying writer. In text mode a
// trailing newline terminates the stream.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	if !w.binary {
		if err := w.w.WriteByte('\n'); err != nil {
			w.err = err
			return err
		}
	}
	w.err = w.w.Flush()
	return w.err
}

// WriteToken writes a bare token followed by a separating space. Tokens
// must be nonempty and free of whitespace.
func (w *Writer) WriteToken(tok string) error {
	if w.err != nil {
		return w.err
	}
	if tok == "" || strings.ContainsAny(tok, " \t\r\n") {
		w.err = fmt.Errorf("serialization: %w: %q", ErrInvalidToken, tok)
		return w.err
	}
	_, w.err = w.w.WriteString(tok + " ")
	return w.err
}

// WriteInt writes an integer value.
func (w *Writer) WriteInt(v int) error {
	if w.err != nil {
		return w.err
	}
	if w.binary {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(int64(v)))
		_, w.err = w.w.Write(buf[:])
		return w.err
	}
	_, w.err = w.w.WriteString(strconv.Itoa(v) + " ")
	return w.err
}

// WriteFloat writes a float64 value.
func (w *Writer) WriteFloat(v float64) error {
	if w.err != nil {
		return w.err
	}
	if w.binary {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		_, w.err = w.w.Write(buf[:])
		return w.err
	}
	_, w.err = w.w.WriteString(strconv.FormatFloat(v, 'g', -1, 64) + " ")
	return w.err
}

// WriteBool writes a boolean as the single letter T or F.
func (w *Writer) WriteBool(v bool) error {
	if w.err != nil {
		return w.err
	}
	letter := "F"
	if v {
		letter = "T"
	}
	if w.binary {
		_, w.err = w.w.WriteString(letter)
	} else {
		_, w.err = w.w.WriteString(letter + " ")
	}
	return w.err
}

// WriteVector writes a dense vector: the DV token, the length, then the
// elements.
func (w *Writer) WriteVector(v *mat.VecDense) error {
	if err := w.WriteToken(vectorToken); err != nil {
		return err
	}
	n := v.Len()
	if err := w.WriteInt(n); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := w.WriteFloat(v.AtVec(i)); err != nil {
			return err
		}
	}
	return w.err
}

// WriteMatrix writes a dense matrix: the DM token, the row and column
// counts, then the elements in row-major order.
func (w *Writer) WriteMatrix(m *mat.Dense) error {
	if err := w.WriteToken(matrixToken); err != nil {
		return err
	}
	rows, cols := m.Dims()
	if err := w.WriteInt(rows); err != nil {
		return err
	}
	if err := w.WriteInt(cols); err != nil {
		return err
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if err := w.WriteFloat(m.At(i, j)); err != nil {
				return err
			}
		}
	}
	return w.err
}

// Reader consumes an ordered token stream, detecting the encoding from
// the binary marker.
type Reader struct {
	r      *bufio.Reader
	binary bool
}

// NewReader returns a reader over r, consuming the binary marker if
// present.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(binaryMarker))
	if err == nil && string(head) == binaryMarker {
		if _, err := br.Discard(len(binaryMarker)); err != nil {
			return nil, err
		}
		return &Reader{r: br, binary: true}, nil
	}
	if err != nil && err != io.EOF {
		return nil, err
	}
	return &Reader{r: br, binary: false}, nil
}

// Binary reports the stream encoding.
func (r *Reader) Binary() bool { return r.binary }

// ReadToken reads the next whitespace-delimited token.
func (r *Reader) ReadToken() (string, error) {
	if err := r.skipSpace(); err != nil {
		return "", err
	}
	var sb strings.Builder
	for {
		b, err := r.r.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		if isSpace(b) {
			if err := r.r.UnreadByte(); err != nil {
				return "", err
			}
			break
		}
		sb.WriteByte(b)
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("serialization: %w: empty token at stream position", ErrCorrupt)
	}
	// The single space separator after a token is consumed here so binary
	// values can follow immediately.
	if b, err := r.r.ReadByte(); err == nil && b != ' ' {
		if err := r.r.UnreadByte(); err != nil {
			return "", err
		}
	}
	return sb.String(), nil
}

// ExpectToken reads the next token and fails unless it equals want.
func (r *Reader) ExpectToken(want string) error {
	got, err := r.ReadToken()
	if err != nil {
		return fmt.Errorf("serialization: reading token %q: %w", want, err)
	}
	if got != want {
		return fmt.Errorf("serialization: %w: want %q, got %q", ErrUnexpectedToken, want, got)
	}
	return nil
}

// PeekToken returns the next token without consuming it. Only supported
// in text mode, where token boundaries are unambiguous.
func (r *Reader) PeekToken() (string, error) {
	if r.binary {
		return "", fmt.Errorf("serialization: %w: peek in binary mode", ErrCorrupt)
	}
	if err := r.skipSpace(); err != nil {
		return "", err
	}
	for n := 1; ; n++ {
		buf, err := r.r.Peek(n)
		if len(buf) == n && !isSpace(buf[n-1]) && err == nil {
			continue
		}
		end := len(buf)
		if end > 0 && isSpace(buf[end-1]) {
			end--
		}
		if end == 0 {
			if err != nil && err != io.EOF {
				return "", err
			}
			return "", fmt.Errorf("serialization: %w: empty token", ErrCorrupt)
		}
		return string(buf[:end]), nil
	}
}

// ReadInt reads an integer value.
func (r *Reader) ReadInt() (int, error) {
	if r.binary {
		var buf [8]byte
		if _, err := io.ReadFull(r.r, buf[:]); err != nil {
			return 0, fmt.Errorf("serialization: reading int: %w", err)
		}
		return int(int64(binary.LittleEndian.Uint64(buf[:]))), nil
	}
	tok, err := r.ReadToken()
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(tok)
	if err != nil {
		return 0, fmt.Errorf("serialization: %w: %q is not an integer", ErrCorrupt, tok)
	}
	return v, nil
}

// ReadFloat reads a float64 value.
func (r *Reader) ReadFloat() (float64, error) {
	if r.binary {
		var buf [8]byte
		if _, err := io.ReadFull(r.r, buf[:]); err != nil {
			return 0, fmt.Errorf("serialization: reading float: %w", err)
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(buf[:])), nil
	}
	tok, err := r.ReadToken()
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, fmt.Errorf("serialization: %w: %q is not a float", ErrCorrupt, tok)
	}
	return v, nil
}

// ReadBool reads a boolean written as T or F.
func (r *Reader) ReadBool() (bool, error) {
	var letter byte
	if r.binary {
		b, err := r.r.ReadByte()
		if err != nil {
			return false, fmt.Errorf("serialization: reading bool: %w", err)
		}
		letter = b
	} else {
		tok, err := r.ReadToken()
		if err != nil {
			return false, err
		}
		if len(tok) != 1 {
			return false, fmt.Errorf("serialization: %w: %q is not a bool", ErrCorrupt, tok)
		}
		letter = tok[0]
	}
	switch letter {
	case 'T':
		return true, nil
	case 'F':
		return false, nil
	default:
		return false, fmt.Errorf("serialization: %w: %q is not a bool", ErrCorrupt, string(letter))
	}
}

// ReadVector reads a dense vector written by WriteVector.
func (r *Reader) ReadVector() (*mat.VecDense, error) {
	if err := r.ExpectToken(vectorToken); err != nil {
		return nil, err
	}
	n, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("serialization: %w: vector length %d", ErrCorrupt, n)
	}
	data := make([]float64, n)
	for i := range data {
		if data[i], err = r.ReadFloat(); err != nil {
			return nil, err
		}
	}
	return mat.NewVecDense(n, data), nil
}

// ReadMatrix reads a dense matrix written by WriteMatrix.
func (r *Reader) ReadMatrix() (*mat.Dense, error) {
	if err := r.ExpectToken(matrixToken); err != nil {
		return nil, err
	}
	rows, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	cols, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("serialization: %w: matrix dims %dx%d", ErrCorrupt, rows, cols)
	}
	data := make([]float64, rows*cols)
	for i := range data {
		if data[i], err = r.ReadFloat(); err != nil {
			return nil, err
		}
	}
	return mat.NewDense(rows, cols, data), nil
}

func (r *Reader) skipSpace() error {
	for {
		b, err := r.r.ReadByte()
		if err == io.EOF {
			return io.EOF
		}
		if err != nil {
			return err
		}
		if !isSpace(b) {
			return r.r.UnreadByte()
		}
	}
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}
