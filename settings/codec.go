package settings

import (
	"github.com/fxamacker/cbor/v2"
)

// Encode and Decode implement the "self-describing binary codec" of spec
// §6.5: CBOR carries its own type tags for nulls, booleans, ints, floats,
// UTF-8 strings, byte strings, arrays, maps, and timestamps, so a decoder
// never needs to know the schema ahead of time — exactly the round-trip
// property spec §8 property 4 requires of Settings.Set/Get.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	encOpts := cbor.CanonicalEncOptions()
	encOpts.Time = cbor.TimeRFC3339Nano
	encOpts.TimeTag = cbor.EncTagRequired
	var err error
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic("settings: invalid cbor encode options: " + err.Error())
	}

	decOpts := cbor.DecOptions{TimeTag: cbor.DecTagOptional}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic("settings: invalid cbor decode options: " + err.Error())
	}
}

// Encode serializes v into the binary codec.
func Encode(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Decode deserializes into an any, preserving maps as map[string]any and
// preferring time.Time for tagged timestamps.
func Decode(b []byte) (any, error) {
	var v any
	if err := decMode.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return normalize(v), nil
}

// normalize walks a generically-decoded value converting uint64 back to
// int64 where it fits, so round-tripping a positive Go int64 through the
// codec returns an int64 rather than cbor's default unsigned decode.
func normalize(v any) any {
	switch t := v.(type) {
	case uint64:
		if t <= 1<<63-1 {
			return int64(t)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalize(e)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			ks, _ := k.(string)
			out[ks] = normalize(e)
		}
		return out
	case map[string]any:
		for k, e := range t {
			t[k] = normalize(e)
		}
		return t
	default:
		return v
	}
}

// DecodeInto deserializes b into dst, a pointer to a concrete type, for
// callers (e.g. the coordinator) that know the expected shape instead of
// wanting the generic any-typed result Decode returns.
func DecodeInto(b []byte, dst any) error {
	return decMode.Unmarshal(b, dst)
}

// EncodeInto is an alias for Encode kept for symmetry with DecodeInto at
// call sites that encode a concrete struct rather than an any.
func EncodeInto(v any) ([]byte, error) {
	return Encode(v)
}
