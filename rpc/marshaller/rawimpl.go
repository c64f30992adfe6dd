package marshaller

import (
	"github.com/pkg/errors"
)

// NewRawMarshaller creates a marshaller passing byte slices through unchanged
func NewRawMarshaller() IMarshaller {
	return &rawMarshallerImpl{}
}

// rawMarshallerImpl implements the IMarshaller interface for []byte values
type rawMarshallerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see marshaller.IMarshaller)
// --------------------------------------------------------------------------

func (r rawMarshallerImpl) Marshal(v any) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		return t, nil
	case *[]byte:
		return *t, nil
	default:
		return nil, errors.Errorf("raw marshaller: unsupported type %T", v)
	}
}

func (r rawMarshallerImpl) Unmarshal(b []byte, v any) error {
	t, ok := v.(*[]byte)
	if !ok {
		return errors.Errorf("raw marshaller: cannot decode into %T", v)
	}
	*t = append((*t)[:0], b...)
	return nil
}

func (r rawMarshallerImpl) GetName() string {
	return "raw"
}
