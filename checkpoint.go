package tft

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"os"

	"github.com/cockroachdb/errors"
)

// ===========================================================================
// Model Serialization
// ===========================================================================
//
// One self-describing file holds everything needed to reconstruct a model:
//
//	magic "TFT1"          4 bytes
//	header length         uint32, little endian
//	header                JSON: config, feature schema, optional input
//	                      scaler, parameter manifest
//	parameter data        raw float64 dumps, little endian, in canonical
//	                      parameter order
//
// The manifest (name, rows, cols per parameter) makes loads fail loudly
// when the architecture changed between save and load, instead of reading
// someone else's floats into the wrong matrices. Config, feature schema
// and scaler travel inside the checkpoint because the weights are
// meaningless without them.
// ===========================================================================

const checkpointMagic = "TFT1"

type paramInfo struct {
	Name string `json:"name"`
	Rows int    `json:"rows"`
	Cols int    `json:"cols"`
}

type checkpointHeader struct {
	Config   Config      `json:"config"`
	Features FeatureSet  `json:"features"`
	Scaler   *Scaler     `json:"scaler,omitempty"`
	Params   []paramInfo `json:"params"`
}

// Save writes the model as a single checkpoint file.
func (m *Model) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create checkpoint %s", path)
	}
	defer f.Close()

	if err := m.saveTo(f); err != nil {
		return errors.Wrapf(err, "write checkpoint %s", path)
	}
	return f.Sync()
}

func (m *Model) saveTo(w io.Writer) error {
	header := checkpointHeader{
		Config:   m.cfg,
		Features: m.fs,
		Scaler:   m.scaler,
		Params:   make([]paramInfo, len(m.params)),
	}
	for i, p := range m.params {
		r, c := p.W.Dims()
		header.Params[i] = paramInfo{Name: p.Name, Rows: r, Cols: c}
	}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return errors.Wrap(err, "marshal header")
	}

	if _, err := w.Write([]byte(checkpointMagic)); err != nil {
		return errors.Wrap(err, "write magic")
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(headerJSON))); err != nil {
		return errors.Wrap(err, "write header length")
	}
	if _, err := w.Write(headerJSON); err != nil {
		return errors.Wrap(err, "write header")
	}

	for _, p := range m.params {
		if err := binary.Write(w, binary.LittleEndian, p.W.RawMatrix().Data); err != nil {
			return errors.Wrapf(err, "write parameter %s", p.Name)
		}
	}
	return nil
}

// LoadModel reconstructs a model from a checkpoint file.
func LoadModel(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open checkpoint %s", path)
	}
	defer f.Close()

	m, err := loadFrom(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read checkpoint %s", path)
	}
	return m, nil
}

func loadFrom(r io.Reader) (*Model, error) {
	magic := make([]byte, len(checkpointMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, errors.Wrap(err, "read magic")
	}
	if string(magic) != checkpointMagic {
		return nil, errors.Newf("not a model checkpoint (magic %q)", magic)
	}

	var headerLen uint32
	if err := binary.Read(r, binary.LittleEndian, &headerLen); err != nil {
		return nil, errors.Wrap(err, "read header length")
	}
	headerJSON := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	var header checkpointHeader
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, errors.Wrap(err, "unmarshal header")
	}

	m, err := NewModel(header.Config, header.Features)
	if err != nil {
		return nil, err
	}
	m.scaler = header.Scaler
	if len(header.Params) != len(m.params) {
		return nil, errors.Newf("checkpoint has %d parameters, model expects %d",
			len(header.Params), len(m.params))
	}

	for i, p := range m.params {
		info := header.Params[i]
		r0, c0 := p.W.Dims()
		if info.Name != p.Name || info.Rows != r0 || info.Cols != c0 {
			return nil, errors.Newf("parameter %d mismatch: checkpoint %s (%d×%d), model %s (%d×%d)",
				i, info.Name, info.Rows, info.Cols, p.Name, r0, c0)
		}
		if err := binary.Read(r, binary.LittleEndian, p.W.RawMatrix().Data); err != nil {
			return nil, errors.Wrapf(err, "read parameter %s", p.Name)
		}
	}
	return m, nil
}
