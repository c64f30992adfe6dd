package marshaller

import (
	"bytes"
	"encoding/gob"
)

// NewGOBMarshaller creates a new marshaller using Go's binary gob format
func NewGOBMarshaller() IMarshaller {
	return &gobMarshallerImpl{}
}

// gobMarshallerImpl implements the IMarshaller interface using gob encoding
type gobMarshallerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see marshaller.IMarshaller)
// --------------------------------------------------------------------------

func (g gobMarshallerImpl) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g gobMarshallerImpl) Unmarshal(b []byte, v any) error {
	dec := gob.NewDecoder(bytes.NewReader(b))
	return dec.Decode(v)
}

func (g gobMarshallerImpl) GetName() string {
	return "gob"
}
