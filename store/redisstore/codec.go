package redisstore

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/zero-day-ai/protomodel"
)

// encMode uses Core Deterministic Encoding so equal records produce equal
// bytes.
var encMode cbor.EncMode

// decMode decodes untyped maps as map[string]any, the shape of a Record.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("redisstore: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("redisstore: CBOR decoder initialization failed: " + err.Error())
	}
}

func encodeRecord(rec protomodel.Record) ([]byte, error) {
	return encMode.Marshal(map[string]any(rec))
}

func decodeRecord(data []byte) (protomodel.Record, error) {
	var rec map[string]any
	if err := decMode.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return protomodel.Record(rec), nil
}

// asInt64 reads an integer decoded from CBOR, which yields uint64 for
// non-negative values.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	}
	return 0, false
}
