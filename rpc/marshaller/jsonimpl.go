package marshaller

import (
	"encoding/json"
)

// NewJSONMarshaller creates a new marshaller using json encoding
func NewJSONMarshaller() IMarshaller {
	return &jsonMarshallerImpl{}
}

// jsonMarshallerImpl implements the IMarshaller interface using json encoding
type jsonMarshallerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see marshaller.IMarshaller)
// --------------------------------------------------------------------------

func (j jsonMarshallerImpl) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (j jsonMarshallerImpl) Unmarshal(b []byte, v any) error {
	return json.Unmarshal(b, v)
}

func (j jsonMarshallerImpl) GetName() string {
	return "json"
}
