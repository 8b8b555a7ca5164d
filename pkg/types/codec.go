package types

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// DecodeFields decodes a flattened attribute bag into the struct pointed to
// by out. The struct is zeroed first so fields absent from the bag do not
// keep values from an earlier load. Struct fields are matched by their json
// tag. Timestamps arrive as RFC 3339 strings. The returned slice names the
// bag keys no struct field accepted, in sorted order.
func DecodeFields(fields Fields, out any) ([]string, error) {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("decode fields: target must be a non-nil struct pointer, got %T", out)
	}
	rv.Elem().SetZero()

	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Metadata:         &md,
		Result:           out,
		DecodeHook:       mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	if err := dec.Decode(map[string]any(fields)); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	slices.Sort(md.Unused)
	return md.Unused, nil
}

// EncodeFields encodes the struct v into an attribute bag using its json
// tags. Values take their JSON shape (numbers become float64, nested structs
// become maps) so two encodings compare with reflect.DeepEqual.
func EncodeFields(v any) (Fields, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	var out Fields
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	return out, nil
}
