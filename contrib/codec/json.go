package codec

import "encoding/json"

// JSON is the default Codec, grounded on the plain encoding/json wrapper
// shared across the example pack's cache and pub/sub layers.
type JSON struct{}

func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
