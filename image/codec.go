package image

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/fxamacker/cbor/v2"

	"github.com/wippyai/clr-embed/errors"
)

// Magic prefixes every binary image.
var Magic = [4]byte{'C', 'L', 'R', 0x01}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("image: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// Encode serializes img to the binary form.
func Encode(img *Image) ([]byte, error) {
	if err := img.Validate(); err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidInput, err, "encode image")
	}
	body, err := encMode.Marshal(img)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidInput, err, "encode image")
	}
	out := make([]byte, 0, len(Magic)+len(body))
	out = append(out, Magic[:]...)
	return append(out, body...), nil
}

// Decode parses the binary form.
func Decode(data []byte) (*Image, error) {
	if len(data) < len(Magic) || !bytes.Equal(data[:len(Magic)], Magic[:]) {
		return nil, errors.InvalidInput(errors.PhaseLoad, "not an image: bad magic")
	}
	var img Image
	if err := cbor.Unmarshal(data[len(Magic):], &img); err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidInput, err, "decode image")
	}
	if err := img.Validate(); err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidInput, err, "decode image")
	}
	return &img, nil
}

// ParseSource parses the TOML source form. Method bodies given as IL text
// are assembled; the referenced type list is computed when omitted.
func ParseSource(data []byte) (*Image, error) {
	var img Image
	if err := toml.Unmarshal(data, &img); err != nil {
		return nil, errors.ParseFailed("image source", err)
	}
	for ci := range img.Classes {
		c := &img.Classes[ci]
		if c.Kind == "" {
			c.Kind = KindClass
		}
		for mi := range c.Methods {
			m := &c.Methods[mi]
			if m.IL == "" {
				continue
			}
			code, err := ParseIL(m.IL)
			if err != nil {
				return nil, errors.ParseFailed(fmt.Sprintf("%s::%s", c.FullName(), m.Name), err)
			}
			m.Body = code
			m.IL = ""
		}
	}
	if err := img.Validate(); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "image source")
	}
	if img.TypeRefs == nil {
		img.TypeRefs = CollectTypeRefs(&img)
	}
	return &img, nil
}

// FormatSource renders img in the TOML source form.
func FormatSource(img *Image) ([]byte, error) {
	out := *img
	out.Classes = make([]ClassDef, len(img.Classes))
	for ci, c := range img.Classes {
		methods := make([]MethodDef, len(c.Methods))
		for mi, m := range c.Methods {
			if len(m.Body) > 0 {
				m.IL = FormatIL(m.Body)
				m.Body = nil
			}
			methods[mi] = m
		}
		c.Methods = methods
		out.Classes[ci] = c
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(&out); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "format image source")
	}
	return buf.Bytes(), nil
}

// IsSource reports whether path names a TOML source image.
func IsSource(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// ReadFile loads an image in the form selected by the path's extension.
func ReadFile(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.LoadFailure(path, err)
	}
	if IsSource(path) {
		return ParseSource(data)
	}
	return Decode(data)
}

// WriteFile stores img in the form selected by the path's extension.
func WriteFile(path string, img *Image) error {
	var (
		data []byte
		err  error
	)
	if IsSource(path) {
		data, err = FormatSource(img)
	} else {
		data, err = Encode(img)
	}
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(errors.PhaseLoad, errors.KindLoadFailure, err, "write "+path)
	}
	return nil
}
