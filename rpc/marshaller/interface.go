package marshaller

// IMarshaller converts user keys and values to the byte arrays sent to the server
type IMarshaller interface {
	// Marshal encodes v into a byte array
	// It returns the encoded bytes and an error if v is not supported
	Marshal(v any) ([]byte, error)
	// Unmarshal decodes b into the value v points to
	// It returns an error if b cannot be decoded into v
	Unmarshal(b []byte, v any) error
	// GetName returns the name of the format (e.g. "json")
	GetName() string
}

// ByName returns the marshaller for a format name, or false if the name is unknown
func ByName(name string) (IMarshaller, bool) {
	switch name {
	case "raw":
		return NewRawMarshaller(), true
	case "string":
		return NewStringMarshaller(), true
	case "json":
		return NewJSONMarshaller(), true
	case "gob":
		return NewGOBMarshaller(), true
	default:
		return nil, false
	}
}
