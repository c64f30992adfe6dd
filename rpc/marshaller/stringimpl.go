package marshaller

import (
	"github.com/pkg/errors"
)

// NewStringMarshaller creates a marshaller storing strings as utf-8 bytes
func NewStringMarshaller() IMarshaller {
	return &stringMarshallerImpl{}
}

// stringMarshallerImpl implements the IMarshaller interface for string values
type stringMarshallerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see marshaller.IMarshaller)
// --------------------------------------------------------------------------

func (s stringMarshallerImpl) Marshal(v any) ([]byte, error) {
	switch t := v.(type) {
	case string:
		return []byte(t), nil
	case *string:
		return []byte(*t), nil
	default:
		return nil, errors.Errorf("string marshaller: unsupported type %T", v)
	}
}

func (s stringMarshallerImpl) Unmarshal(b []byte, v any) error {
	t, ok := v.(*string)
	if !ok {
		return errors.Errorf("string marshaller: cannot decode into %T", v)
	}
	*t = string(b)
	return nil
}

func (s stringMarshallerImpl) GetName() string {
	return "string"
}
