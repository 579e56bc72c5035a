// Package artifact reads and writes model and scaler files.
//
// Two envelopes are understood. The native one is a gob stream holding a
// header followed by the payload produced by the artifact's Save method. The
// JSON envelope carries the kind's parameters in readable form so that
// models trained elsewhere can be exported without a Go toolchain:
//
//	{"format": "flowguard", "version": 1, "kind": "mlp", "params": {...}}
//
// The envelope is detected from the first non-space byte of the file.
package artifact

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hed1ad/flowguard/pkg/detectors"
	"github.com/hed1ad/flowguard/pkg/detectors/iforest"
	"github.com/hed1ad/flowguard/pkg/detectors/mlp"
	"github.com/hed1ad/flowguard/pkg/scaler"
)

const (
	// Magic identifies flowguard artifacts in both envelopes.
	Magic = "flowguard"
	// Version is the newest envelope version this package reads and writes.
	Version = 1
)

var (
	// ErrBadMagic is returned for files that are not flowguard artifacts.
	ErrBadMagic = errors.New("not a flowguard artifact")
	// ErrVersion is returned for artifacts written by a newer version.
	ErrVersion = errors.New("unsupported artifact version")
	// ErrUnknownKind is returned for kinds no decoder is registered for.
	ErrUnknownKind = errors.New("unknown artifact kind")
	// ErrWrongRole is returned when a scaler is loaded as a model or vice versa.
	ErrWrongRole = errors.New("artifact has the wrong role")
)

// Format selects the envelope used when writing.
type Format int

// Envelope formats.
const (
	Gob Format = iota
	JSON
)

// Header precedes the payload of a gob artifact.
type Header struct {
	Magic   string
	Version int
	Kind    string
}

// envelope is the JSON form of an artifact.
type envelope struct {
	Format  string          `json:"format"`
	Version int             `json:"version"`
	Kind    string          `json:"kind"`
	Params  json.RawMessage `json:"params"`
}

type role int

const (
	roleModel role = iota
	roleScaler
)

func (r role) String() string {
	if r == roleScaler {
		return "scaler"
	}
	return "model"
}

// codec builds an artifact of one kind from either envelope.
type codec struct {
	role     role
	fromGob  func(payload []byte) (any, error)
	fromJSON func(params json.RawMessage) (any, error)
}

var codecs = map[string]codec{
	mlp.Kind: {
		role: roleModel,
		fromGob: func(payload []byte) (any, error) {
			n := &mlp.Network{}
			return n, n.Load(payload)
		},
		fromJSON: func(raw json.RawMessage) (any, error) {
			var p mlp.Params
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, err
			}
			return mlp.FromParams(p)
		},
	},
	iforest.Kind: {
		role: roleModel,
		fromGob: func(payload []byte) (any, error) {
			f := iforest.New()
			return f, f.Load(payload)
		},
		fromJSON: func(raw json.RawMessage) (any, error) {
			var p iforest.Params
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, err
			}
			return iforest.FromParams(p)
		},
	},
	scaler.KindStandard: {
		role: roleScaler,
		fromGob: func(payload []byte) (any, error) {
			s := &scaler.Standard{}
			return s, s.Load(payload)
		},
		fromJSON: func(raw json.RawMessage) (any, error) {
			var p scaler.StandardParams
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, err
			}
			return scaler.NewStandard(p.Mean, p.Scale)
		},
	},
	scaler.KindMinMax: {
		role: roleScaler,
		fromGob: func(payload []byte) (any, error) {
			m := &scaler.MinMax{}
			return m, m.Load(payload)
		},
		fromJSON: func(raw json.RawMessage) (any, error) {
			var p scaler.MinMaxParams
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, err
			}
			return scaler.NewMinMax(p.Scale, p.Min)
		},
	},
}

// ReadModel loads a model artifact from path.
func ReadModel(path string) (detectors.Model, error) {
	v, err := readFile(path, roleModel)
	if err != nil {
		return nil, err
	}
	return v.(detectors.Model), nil
}

// ReadScaler loads a scaler artifact from path.
func ReadScaler(path string) (scaler.Scaler, error) {
	v, err := readFile(path, roleScaler)
	if err != nil {
		return nil, err
	}
	return v.(scaler.Scaler), nil
}

func readFile(path string, want role) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decode(data, want)
}

// Decode parses an artifact of either role from memory.
func Decode(data []byte) (any, error) {
	return decode(data, -1)
}

func decode(data []byte, want role) (any, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return decodeJSON(trimmed, want)
	}
	return decodeGob(data, want)
}

func decodeGob(data []byte, want role) (any, error) {
	dec := gob.NewDecoder(bytes.NewReader(data))

	var h Header
	if err := dec.Decode(&h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMagic, err)
	}
	c, err := lookup(h.Magic, h.Version, h.Kind, want)
	if err != nil {
		return nil, err
	}

	var payload []byte
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("read %s payload: %w", h.Kind, err)
	}
	v, err := c.fromGob(payload)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", h.Kind, err)
	}
	return v, nil
}

func decodeJSON(data []byte, want role) (any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse json artifact: %w", err)
	}
	c, err := lookup(env.Format, env.Version, env.Kind, want)
	if err != nil {
		return nil, err
	}
	if len(env.Params) == 0 {
		return nil, fmt.Errorf("%s artifact has no params", env.Kind)
	}

	v, err := c.fromJSON(env.Params)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Kind, err)
	}
	return v, nil
}

func lookup(magic string, version int, kind string, want role) (codec, error) {
	if magic != Magic {
		return codec{}, ErrBadMagic
	}
	if version < 1 || version > Version {
		return codec{}, fmt.Errorf("%w: %d", ErrVersion, version)
	}
	c, ok := codecs[kind]
	if !ok {
		return codec{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if want >= 0 && c.role != want {
		return codec{}, fmt.Errorf("%w: %q is a %s, expected a %s", ErrWrongRole, kind, c.role, want)
	}
	return c, nil
}

// Encode writes a into w using the given envelope.
func Encode(w io.Writer, a detectors.Persistent, format Format) error {
	if _, ok := codecs[a.Kind()]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, a.Kind())
	}

	switch format {
	case Gob:
		payload, err := a.Save()
		if err != nil {
			return err
		}
		enc := gob.NewEncoder(w)
		if err := enc.Encode(Header{Magic: Magic, Version: Version, Kind: a.Kind()}); err != nil {
			return err
		}
		return enc.Encode(payload)
	case JSON:
		params, err := paramsOf(a)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(params)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(envelope{Format: Magic, Version: Version, Kind: a.Kind(), Params: raw})
	default:
		return fmt.Errorf("unknown format %d", format)
	}
}

func paramsOf(a detectors.Persistent) (any, error) {
	switch v := a.(type) {
	case *mlp.Network:
		return v.Params(), nil
	case *iforest.IsolationForest:
		return v.Params(), nil
	case *scaler.Standard:
		return v.Params(), nil
	case *scaler.MinMax:
		return v.Params(), nil
	}
	return nil, fmt.Errorf("%w: no json params for %T", ErrUnknownKind, a)
}

// WriteFile writes a to path, replacing any existing file.
func WriteFile(path string, a detectors.Persistent, format Format) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := Encode(w, a, format); err != nil {
		tmp.Close()
		return fmt.Errorf("encode %s: %w", a.Kind(), err)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
