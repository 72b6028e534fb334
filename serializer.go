package corvus

import "encoding/json"

// Serializer converts request payloads to wire bytes and response bodies
// back. The default is encoding/json; substitute an implementation via
// WithSerializer for alternative codecs or custom JSON handling.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type jsonSerializer struct{}

func (jsonSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonSerializer) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
