package fmsketch

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/kwertop/fmsketch/internal/util"
)

// Decoded storage areas are capped so that a corrupt header can't make us
// allocate unbounded memory
const maxDecodedStorage = 1 << 28

// Binary layout, all integers big endian:
//
//	header  [mode u8][hasher u8]
//	exact   [capacity u32][count u32][storage size u32]
//	        count x [offset u32][length u32]
//	        stored bytes
//	sketch  [numMaps u16][mapWidth u16][bitmaps]
//
// The directory is written in sorted order, the stored bytes in insertion
// order. Sketch bitmaps use the layout of SketchBitmap.Bytes.

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func corrupt(err error, what string) error {
	if err == nil {
		return errors.Wrap(ErrCorruptState, what)
	}
	return errors.Wrapf(ErrCorruptState, "%s: %v", what, err)
}

// WriteTo writes the binary form of the sketch to _stream_
func (f *FMSketch) WriteTo(stream io.Writer) (int64, error) {
	if f == nil {
		return 0, ErrInvocationContext
	}
	w := &countingWriter{w: stream}
	if _, err := w.Write([]byte{uint8(f.Mode()), uint8(f.hasher)}); err != nil {
		return w.n, err
	}
	var err error
	switch st := f.state.(type) {
	case *ExactCounter:
		err = writeExact(w, st)
	case *SketchBitmap:
		err = writeSketch(w, st)
	}
	return w.n, err
}

func writeExact(w io.Writer, e *ExactCounter) error {
	buf := make([]byte, 12+8*len(e.dir))
	binary.BigEndian.PutUint32(buf[0:], uint32(e.capacity))
	binary.BigEndian.PutUint32(buf[4:], uint32(len(e.dir)))
	binary.BigEndian.PutUint32(buf[8:], uint32(cap(e.storage)))
	for i, d := range e.dir {
		binary.BigEndian.PutUint32(buf[12+8*i:], d.offset)
		binary.BigEndian.PutUint32(buf[16+8*i:], d.length)
	}
	if _, err := w.Write(buf); err != nil {
		return err
	}
	_, err := w.Write(e.storage)
	return err
}

func writeSketch(w io.Writer, s *SketchBitmap) error {
	if s.numMaps > MaxNumMaps || s.mapWidth > math.MaxUint16 {
		return errors.Errorf("fmsketch: %dx%d bits don't fit the sketch header", s.numMaps, s.mapWidth)
	}
	err := binary.Write(w, binary.BigEndian, [2]uint16{uint16(s.numMaps), uint16(s.mapWidth)})
	if err != nil {
		return err
	}
	_, err = w.Write(s.Bytes())
	return err
}

// ReadFrom replaces the sketch with the one read from _stream_. Malformed
// input yields ErrCorruptState and leaves the sketch unchanged.
func (f *FMSketch) ReadFrom(stream io.Reader) (int64, error) {
	if f == nil {
		return 0, ErrInvocationContext
	}
	r := &countingReader{r: stream}
	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return r.n, corrupt(err, "header")
	}
	hasher := Hasher(header[1])
	if !hasher.Valid() {
		return r.n, corrupt(nil, hasher.String())
	}
	var state partialState
	switch Mode(header[0]) {
	case ModeEmpty:
	case ModeExact:
		e, err := readExact(r)
		if err != nil {
			return r.n, err
		}
		state = e
	case ModeSketch:
		s, err := readSketch(r, hasher)
		if err != nil {
			return r.n, err
		}
		state = s
	default:
		return r.n, corrupt(nil, "unknown mode "+Mode(header[0]).String())
	}
	f.hasher = hasher
	f.state = state
	if f.log == nil {
		f.log = zap.NewNop().Sugar()
	}
	return r.n, nil
}

func readExact(r io.Reader) (*ExactCounter, error) {
	var header [3]uint32
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, corrupt(err, "exact counter header")
	}
	capacity, count, storageSize := header[0], header[1], header[2]
	if capacity != MinVals {
		return nil, errors.Wrapf(ErrCorruptState, "exact counter capacity %d, expected %d", capacity, MinVals)
	}
	if count > capacity || storageSize > maxDecodedStorage {
		return nil, corrupt(nil, "exact counter header out of range")
	}
	raw := make([]byte, 8*int(count))
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, corrupt(err, "exact counter directory")
	}
	dir := make([]dirEntry, count, capacity)
	var used uint64
	for i := range dir {
		dir[i] = dirEntry{
			offset: binary.BigEndian.Uint32(raw[8*i:]),
			length: binary.BigEndian.Uint32(raw[8*i+4:]),
		}
		used += uint64(dir[i].length)
	}
	if used > uint64(storageSize) {
		return nil, corrupt(nil, "stored values exceed the storage area")
	}
	storage := make([]byte, used, storageSize)
	if _, err := io.ReadFull(r, storage); err != nil {
		return nil, corrupt(err, "exact counter storage")
	}
	for _, d := range dir {
		if uint64(d.offset)+uint64(d.length) > used {
			return nil, corrupt(nil, "directory entry outside the storage area")
		}
	}
	e := &ExactCounter{capacity: int(capacity), dir: dir, storage: storage}
	for i := 1; i < len(dir); i++ {
		if bytes.Compare(e.value(i-1), e.value(i)) >= 0 {
			return nil, corrupt(nil, "exact counter directory isn't sorted")
		}
	}
	return e, nil
}

func readSketch(r io.Reader, hasher Hasher) (*SketchBitmap, error) {
	var header [2]uint16
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, corrupt(err, "sketch header")
	}
	numMaps, mapWidth := uint(header[0]), uint(header[1])
	if numMaps == 0 {
		return nil, corrupt(nil, "sketch without bitmaps")
	}
	if mapWidth != MapWidth {
		return nil, errors.Wrapf(ErrSizeMismatch, "map width %d", mapWidth)
	}
	data := make([]byte, util.Ceil8(numMaps*mapWidth))
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, corrupt(err, "sketch bitmaps")
	}
	return sketchFromBytes(numMaps, hasher, data)
}

// MarshalBinary returns the binary form of the sketch
func (f *FMSketch) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary replaces the sketch with the one encoded in _data_
func (f *FMSketch) UnmarshalBinary(data []byte) error {
	if f == nil {
		return ErrInvocationContext
	}
	decoded := &FMSketch{log: f.log}
	r := bytes.NewReader(data)
	if _, err := decoded.ReadFrom(r); err != nil {
		return err
	}
	if r.Len() != 0 {
		return corrupt(nil, "trailing bytes")
	}
	*f = *decoded
	return nil
}

type sketchJSON struct {
	NumMaps  uint   `json:"nm"`
	MapWidth uint   `json:"mw"`
	Hasher   string `json:"h"`
	Bitmaps  string `json:"b"`
	Key      string `json:"k,omitempty"`
}

func newSketchJSON(s *AbstractSketch, data []byte, key string) sketchJSON {
	return sketchJSON{s.numMaps, s.mapWidth, s.hasher.String(), snappyB64(data), key}
}

func marshalSketchJSON(s *AbstractSketch, data []byte, key string) ([]byte, error) {
	return json.Marshal(newSketchJSON(s, data, key))
}

func (j *sketchJSON) toSketch() (*SketchBitmap, error) {
	hasher, err := ParseHasher(j.Hasher)
	if err != nil {
		return nil, corrupt(err, "sketch hasher")
	}
	if j.MapWidth != MapWidth {
		return nil, errors.Wrapf(ErrSizeMismatch, "map width %d", j.MapWidth)
	}
	data, err := unsnappyB64(j.Bitmaps)
	if err != nil {
		return nil, corrupt(err, "sketch bitmaps")
	}
	return sketchFromBytes(j.NumMaps, hasher, data)
}

type exactJSON struct {
	Capacity    int      `json:"c"`
	StorageSize int      `json:"ss"`
	Values      [][]byte `json:"v"`
}

type fmSketchJSON struct {
	Mode   string      `json:"m"`
	Hasher string      `json:"h"`
	Exact  *exactJSON  `json:"e,omitempty"`
	Sketch *sketchJSON `json:"s,omitempty"`
}

// Export JSON marshals the sketch. Exact values are listed in sorted
// order, sketch bitmaps are snappy compressed.
func (f *FMSketch) Export() ([]byte, error) {
	if f == nil {
		return nil, ErrInvocationContext
	}
	j := fmSketchJSON{Mode: f.Mode().String(), Hasher: f.hasher.String()}
	switch st := f.state.(type) {
	case *ExactCounter:
		j.Exact = &exactJSON{st.capacity, cap(st.storage), st.Values()}
	case *SketchBitmap:
		s := newSketchJSON(&st.AbstractSketch, st.Bytes(), "")
		j.Sketch = &s
	}
	return json.Marshal(j)
}

// Import JSON unmarshals _data_ into the sketch
func (f *FMSketch) Import(data []byte) error {
	if f == nil {
		return ErrInvocationContext
	}
	var j fmSketchJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return corrupt(err, "json")
	}
	hasher, err := ParseHasher(j.Hasher)
	if err != nil {
		return corrupt(err, "hasher")
	}
	var state partialState
	switch {
	case j.Mode == ModeEmpty.String():
	case j.Mode == ModeExact.String() && j.Exact != nil:
		if j.Exact.Capacity != MinVals || len(j.Exact.Values) > j.Exact.Capacity {
			return errors.Wrapf(ErrCorruptState, "exact counter capacity %d with %d values", j.Exact.Capacity, len(j.Exact.Values))
		}
		storageSize := j.Exact.StorageSize
		if storageSize > maxDecodedStorage {
			storageSize = maxDecodedStorage
		}
		e := NewExactCounter(j.Exact.Capacity, storageSize)
		for _, v := range j.Exact.Values {
			if _, err := e.Insert(v); err != nil {
				return corrupt(err, "exact counter values")
			}
		}
		state = e
	case j.Mode == ModeSketch.String() && j.Sketch != nil:
		s, err := j.Sketch.toSketch()
		if err != nil {
			return err
		}
		if s.hasher != hasher {
			return corrupt(nil, "sketch hasher differs from state hasher")
		}
		state = s
	default:
		return corrupt(nil, "mode "+j.Mode)
	}
	f.hasher = hasher
	f.state = state
	if f.log == nil {
		f.log = zap.NewNop().Sugar()
	}
	return nil
}

// snappyB64 compresses _in_ and encodes the result using URL-safe base64
func snappyB64(in []byte) string {
	return base64.URLEncoding.EncodeToString(snappy.Encode(nil, in))
}

func unsnappyB64(in string) ([]byte, error) {
	compressed, err := base64.URLEncoding.DecodeString(in)
	if err != nil {
		return nil, err
	}
	out, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []byte{}
	}
	return out, nil
}
