package bus

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode encodes queue values with Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no indefinite-length
// items.
var encMode cbor.EncMode

// decMode decodes queue values. Untyped maps become map[string]any so that
// command parameters look the same whether they arrived as JSON or CBOR.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("bus: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("bus: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v as it is stored in a queue.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes a queue value into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
