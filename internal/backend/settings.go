package backend

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// DecodeSettings decodes a settings blob into out using mapstructure tags. Durations may be given
// as strings ("250ms") and numbers may arrive as strings.
func DecodeSettings(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		),
		WeaklyTypedInput: true,
		ErrorUnused:      false,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}
