package utils

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"

	"cvaesurgery/nn"
	"cvaesurgery/tensor"
)

// tensorInfo is one entry of a safetensors header.
type tensorInfo struct {
	DType   string `json:"dtype"`
	Shape   []int  `json:"shape"`
	Offsets [2]int `json:"data_offsets"`
}

// maxHeaderSize bounds the JSON header we are willing to parse.
const maxHeaderSize = 100 << 20

// LoadSafetensors reads a safetensors file into a store. Tensors keep the
// order of their data offsets. F64, F32, F16 and BF16 are supported.
func LoadSafetensors(path string) (*nn.Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read safetensors file: %w", err)
	}
	return DecodeSafetensors(data)
}

// DecodeSafetensors parses an in-memory safetensors blob.
func DecodeSafetensors(data []byte) (*nn.Store, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("safetensors blob too short: %d bytes", len(data))
	}
	headerSize := binary.LittleEndian.Uint64(data[:8])
	if headerSize > maxHeaderSize || uint64(len(data)-8) < headerSize {
		return nil, fmt.Errorf("invalid safetensors header size %d", headerSize)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+headerSize], &raw); err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}
	body := data[8+headerSize:]

	type entry struct {
		name string
		info tensorInfo
	}
	entries := make([]entry, 0, len(raw))
	for name, msg := range raw {
		if name == "__metadata__" {
			continue
		}
		var info tensorInfo
		if err := json.Unmarshal(msg, &info); err != nil {
			return nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		entries = append(entries, entry{name, info})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].info.Offsets[0] != entries[j].info.Offsets[0] {
			return entries[i].info.Offsets[0] < entries[j].info.Offsets[0]
		}
		return entries[i].name < entries[j].name
	})

	store := nn.NewStore()
	for _, e := range entries {
		start, end := e.info.Offsets[0], e.info.Offsets[1]
		if start < 0 || end < start || end > len(body) {
			return nil, fmt.Errorf("tensor %s: offsets [%d, %d) outside %d data bytes", e.name, start, end, len(body))
		}
		t, err := decodeTensor(e.info, body[start:end])
		if err != nil {
			return nil, fmt.Errorf("tensor %s: %w", e.name, err)
		}
		store.Set(e.name, t)
	}
	return store, nil
}

func decodeTensor(info tensorInfo, raw []byte) (*tensor.Tensor, error) {
	size := dtypeSize(info.DType)
	if size == 0 {
		return nil, fmt.Errorf("unsupported dtype %s", info.DType)
	}
	n, err := elementCount(info.Shape)
	if err != nil {
		return nil, err
	}
	if n > len(raw)/size || len(raw) != n*size {
		return nil, fmt.Errorf("shape %v needs %d values of %s, got %d bytes", info.Shape, n, info.DType, len(raw))
	}
	t := tensor.New(info.Shape...)
	le := binary.LittleEndian
	for i := range t.Data {
		b := raw[i*size:]
		switch info.DType {
		case "F64":
			t.Data[i] = math.Float64frombits(le.Uint64(b))
		case "F32":
			t.Data[i] = float64(math.Float32frombits(le.Uint32(b)))
		case "F16":
			t.Data[i] = float64(float16ToFloat32(le.Uint16(b)))
		case "BF16":
			t.Data[i] = float64(math.Float32frombits(uint32(le.Uint16(b)) << 16))
		}
	}
	return t, nil
}

func dtypeSize(dtype string) int {
	switch dtype {
	case "F64":
		return 8
	case "F32":
		return 4
	case "F16", "BF16":
		return 2
	}
	return 0
}

func float16ToFloat32(h uint16) float32 {
	sign := uint32(h>>15) << 31
	exp := int32(h>>10) & 0x1f
	frac := uint32(h) & 0x3ff
	switch {
	case exp == 0 && frac == 0:
		return math.Float32frombits(sign)
	case exp == 0x1f:
		return math.Float32frombits(sign | 0x7f800000 | frac<<13)
	case exp == 0:
		// subnormal
		exp = 1
		for frac&0x400 == 0 {
			frac <<= 1
			exp--
		}
		frac &= 0x3ff
	}
	return math.Float32frombits(sign | uint32(exp+112)<<23 | frac<<13)
}

// SaveSafetensors writes store as F32 tensors in key order.
func SaveSafetensors(path string, store *nn.Store) error {
	data, err := EncodeSafetensors(store)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// EncodeSafetensors serializes store as F32 safetensors.
func EncodeSafetensors(store *nn.Store) ([]byte, error) {
	header := make(map[string]tensorInfo, store.Len())
	var body bytes.Buffer
	for _, key := range store.Keys() {
		t, _ := store.Get(key)
		start := body.Len()
		for _, v := range t.Data {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], math.Float32bits(float32(v)))
			body.Write(b[:])
		}
		header[key] = tensorInfo{DType: "F32", Shape: append([]int{}, t.Shape...), Offsets: [2]int{start, body.Len()}}
	}
	hdr, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal header: %w", err)
	}
	// The data section starts 8-byte aligned.
	if pad := len(hdr) % 8; pad != 0 {
		hdr = append(hdr, bytes.Repeat([]byte(" "), 8-pad)...)
	}
	out := make([]byte, 8, 8+len(hdr)+body.Len())
	binary.LittleEndian.PutUint64(out, uint64(len(hdr)))
	out = append(out, hdr...)
	return append(out, body.Bytes()...), nil
}
