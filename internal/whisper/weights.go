package whisper

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/Cabrel10/AetherionOS/internal/tensor"
)

// Weight container layout (all integers little-endian):
//
//	[4]byte  magic "AETW"
//	uint16   version
//	uint16   flags (reserved, zero)
//	uint32   header length H
//	[H]byte  msgpack header
//	payload  float32 values, tensor offsets are byte offsets into the payload
const (
	weightMagic = "AETW"

	// WeightFormatVersion is the container version written by EncodeWeights
	WeightFormatVersion uint16 = 1

	weightPreambleSize = 12
)

type weightHeader struct {
	Config  Config        `msgpack:"config"`
	Tensors []tensorEntry `msgpack:"tensors"`
	Vocab   []string      `msgpack:"vocab,omitempty"`
}

type tensorEntry struct {
	Name   string `msgpack:"name"`
	Shape  []int  `msgpack:"shape"`
	Offset int64  `msgpack:"offset"`
}

// WeightFile is the decoded content of a weight container
type WeightFile struct {
	Version uint16
	Config  Config
	Tensors map[string]*tensor.Tensor
	Vocab   []string
}

// TensorInfo describes one tensor of a weight file without its values
type TensorInfo struct {
	Name     string `json:"name"`
	Shape    []int  `json:"shape"`
	Elements int    `json:"elements"`
}

// Inventory lists the tensors in name order
func (f *WeightFile) Inventory() []TensorInfo {
	names := make([]string, 0, len(f.Tensors))
	for name := range f.Tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	infos := make([]TensorInfo, 0, len(names))
	for _, name := range names {
		t := f.Tensors[name]
		infos = append(infos, TensorInfo{Name: name, Shape: t.Shape(), Elements: t.Len()})
	}
	return infos
}

// EncodeWeights serialises named tensors into an AETW container
func EncodeWeights(cfg Config, tensors map[string]*tensor.Tensor, vocab []string) ([]byte, error) {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header := weightHeader{Config: cfg, Vocab: vocab}
	var offset int64
	for _, name := range names {
		t := tensors[name]
		header.Tensors = append(header.Tensors, tensorEntry{Name: name, Shape: t.Shape(), Offset: offset})
		offset += int64(t.Len()) * 4
	}

	headerBytes, err := msgpack.Marshal(&header)
	if err != nil {
		return nil, fmt.Errorf("failed to encode weight header: %w", err)
	}

	buf := bytes.NewBuffer(make([]byte, 0, weightPreambleSize+len(headerBytes)+int(offset)))
	buf.WriteString(weightMagic)
	if err := binary.Write(buf, binary.LittleEndian, WeightFormatVersion); err != nil {
		return nil, fmt.Errorf("failed to write version: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, uint16(0)); err != nil {
		return nil, fmt.Errorf("failed to write flags: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(headerBytes))); err != nil {
		return nil, fmt.Errorf("failed to write header length: %w", err)
	}
	buf.Write(headerBytes)

	var word [4]byte
	for _, name := range names {
		for _, v := range tensors[name].Data() {
			binary.LittleEndian.PutUint32(word[:], math.Float32bits(v))
			buf.Write(word[:])
		}
	}
	return buf.Bytes(), nil
}

// DecodeWeights parses an AETW container. Every structural problem is reported as
// ErrWeightFormat; shapes are not checked against any configuration here.
func DecodeWeights(data []byte) (*WeightFile, error) {
	if len(data) < weightPreambleSize {
		return nil, fmt.Errorf("%w: file too small (%d bytes)", ErrWeightFormat, len(data))
	}
	if string(data[0:4]) != weightMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrWeightFormat, data[0:4])
	}
	version := binary.LittleEndian.Uint16(data[4:6])
	if version != WeightFormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrWeightFormat, version)
	}
	headerLen := int64(binary.LittleEndian.Uint32(data[8:12]))
	if weightPreambleSize+headerLen > int64(len(data)) {
		return nil, fmt.Errorf("%w: header length %d exceeds file size", ErrWeightFormat, headerLen)
	}

	var header weightHeader
	if err := msgpack.Unmarshal(data[weightPreambleSize:weightPreambleSize+headerLen], &header); err != nil {
		return nil, fmt.Errorf("%w: failed to decode header: %v", ErrWeightFormat, err)
	}

	payload := data[weightPreambleSize+headerLen:]
	file := &WeightFile{
		Version: version,
		Config:  header.Config,
		Tensors: make(map[string]*tensor.Tensor, len(header.Tensors)),
		Vocab:   header.Vocab,
	}

	for _, entry := range header.Tensors {
		if entry.Name == "" {
			return nil, fmt.Errorf("%w: unnamed tensor", ErrWeightFormat)
		}
		if _, dup := file.Tensors[entry.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate tensor %q", ErrWeightFormat, entry.Name)
		}
		// the element count can never exceed what the payload holds
		maxCount := int64(len(payload)) / 4
		count := int64(1)
		for _, d := range entry.Shape {
			if d <= 0 {
				return nil, fmt.Errorf("%w: tensor %q has invalid shape %v", ErrWeightFormat, entry.Name, entry.Shape)
			}
			if count > maxCount/int64(d) {
				return nil, fmt.Errorf("%w: tensor %q shape %v exceeds payload of %d bytes",
					ErrWeightFormat, entry.Name, entry.Shape, len(payload))
			}
			count *= int64(d)
		}
		if entry.Offset < 0 || entry.Offset > int64(len(payload)) || entry.Offset%4 != 0 {
			return nil, fmt.Errorf("%w: tensor %q offset %d outside payload of %d bytes",
				ErrWeightFormat, entry.Name, entry.Offset, len(payload))
		}
		end := entry.Offset + count*4
		if end > int64(len(payload)) {
			return nil, fmt.Errorf("%w: tensor %q data [%d, %d) outside payload of %d bytes",
				ErrWeightFormat, entry.Name, entry.Offset, end, len(payload))
		}

		values := make([]float32, count)
		raw := payload[entry.Offset:end]
		for i := range values {
			values[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		t, err := tensor.FromSlice(values, entry.Shape...)
		if err != nil {
			return nil, fmt.Errorf("%w: tensor %q: %v", ErrWeightFormat, entry.Name, err)
		}
		file.Tensors[entry.Name] = t
	}

	return file, nil
}
