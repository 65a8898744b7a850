package preset

import (
	json "github.com/goccy/go-json"
)

// Vital presets are UTF-8 JSON documents. A preset is considered valid when
// it carries the preset_styles and synth_version fields and a settings
// object. Everything else is descriptive.

// VitalMetadata is the descriptive subset extracted from a valid preset.
type VitalMetadata struct {
	Author       *string `json:"author,omitempty" bson:"author,omitempty"`
	Comments     *string `json:"comments,omitempty" bson:"comments,omitempty"`
	PresetStyle  *string `json:"preset_style,omitempty" bson:"preset_style,omitempty"`
	PresetStyles *string `json:"preset_styles,omitempty" bson:"preset_styles,omitempty"`
	SynthVersion *string `json:"synth_version,omitempty" bson:"synth_version,omitempty"`

	Macro1 *string `json:"macro1,omitempty" bson:"macro1,omitempty"`
	Macro2 *string `json:"macro2,omitempty" bson:"macro2,omitempty"`
	Macro3 *string `json:"macro3,omitempty" bson:"macro3,omitempty"`
	Macro4 *string `json:"macro4,omitempty" bson:"macro4,omitempty"`

	Osc1On *bool `json:"osc_1_on,omitempty" bson:"osc_1_on,omitempty"`
	Osc2On *bool `json:"osc_2_on,omitempty" bson:"osc_2_on,omitempty"`
	Osc3On *bool `json:"osc_3_on,omitempty" bson:"osc_3_on,omitempty"`

	ChorusOn     *bool `json:"chorus_on,omitempty" bson:"chorus_on,omitempty"`
	DelayOn      *bool `json:"delay_on,omitempty" bson:"delay_on,omitempty"`
	DistortionOn *bool `json:"distortion_on,omitempty" bson:"distortion_on,omitempty"`
	FlangerOn    *bool `json:"flanger_on,omitempty" bson:"flanger_on,omitempty"`
	PhaserOn     *bool `json:"phaser_on,omitempty" bson:"phaser_on,omitempty"`
	ReverbOn     *bool `json:"reverb_on,omitempty" bson:"reverb_on,omitempty"`

	Filter1On  *bool `json:"filter_1_on,omitempty" bson:"filter_1_on,omitempty"`
	Filter2On  *bool `json:"filter_2_on,omitempty" bson:"filter_2_on,omitempty"`
	FilterFxOn *bool `json:"filter_fx_on,omitempty" bson:"filter_fx_on,omitempty"`

	Lfo1Sync *bool `json:"lfo_1_sync,omitempty" bson:"lfo_1_sync,omitempty"`
	Lfo2Sync *bool `json:"lfo_2_sync,omitempty" bson:"lfo_2_sync,omitempty"`
	Lfo3Sync *bool `json:"lfo_3_sync,omitempty" bson:"lfo_3_sync,omitempty"`
	Lfo4Sync *bool `json:"lfo_4_sync,omitempty" bson:"lfo_4_sync,omitempty"`

	ModulationCount *int `json:"modulation_count,omitempty" bson:"modulation_count,omitempty"`
	LfoCount        *int `json:"lfo_count,omitempty" bson:"lfo_count,omitempty"`
}

// IsValidVital reports whether data parses as JSON and carries the required
// Vital fields.
func IsValidVital(data []byte) bool {
	root, ok := parse(data)
	if !ok {
		return false
	}
	return hasRequiredVitalFields(root)
}

// Validate checks preset bytes against the rules for the given synth kind.
// "dexed" presets are accepted without inspection for now; unknown kinds are
// rejected.
func Validate(data []byte, synth string) bool {
	if len(data) == 0 {
		return false
	}
	switch synth {
	case "vital":
		return IsValidVital(data)
	case "dexed":
		return true
	default:
		return false
	}
}

// ExtractVitalMetadata pulls the descriptive fields out of a valid Vital
// preset. Returns nil when the preset is not valid.
func ExtractVitalMetadata(data []byte) *VitalMetadata {
	root, ok := parse(data)
	if !ok || !hasRequiredVitalFields(root) {
		return nil
	}

	md := &VitalMetadata{
		Author:       stringField(root, "author"),
		Comments:     stringField(root, "comments"),
		PresetStyle:  stringField(root, "preset_style"),
		PresetStyles: stringField(root, "preset_styles"),
		SynthVersion: stringField(root, "synth_version"),

		Macro1: stringField(root, "macro1"),
		Macro2: stringField(root, "macro2"),
		Macro3: stringField(root, "macro3"),
		Macro4: stringField(root, "macro4"),

		Osc1On: boolField(root, "osc_1_on"),
		Osc2On: boolField(root, "osc_2_on"),
		Osc3On: boolField(root, "osc_3_on"),

		ChorusOn:     boolField(root, "chorus_on"),
		DelayOn:      boolField(root, "delay_on"),
		DistortionOn: boolField(root, "distortion_on"),
		FlangerOn:    boolField(root, "flanger_on"),
		PhaserOn:     boolField(root, "phaser_on"),
		ReverbOn:     boolField(root, "reverb_on"),

		Filter1On:  boolField(root, "filter_1_on"),
		Filter2On:  boolField(root, "filter_2_on"),
		FilterFxOn: boolField(root, "filter_fx_on"),

		Lfo1Sync: boolField(root, "lfo_1_sync"),
		Lfo2Sync: boolField(root, "lfo_2_sync"),
		Lfo3Sync: boolField(root, "lfo_3_sync"),
		Lfo4Sync: boolField(root, "lfo_4_sync"),
	}

	if arr, ok := root["modulations"].([]any); ok {
		n := len(arr)
		md.ModulationCount = &n
	}
	if arr, ok := root["lfos"].([]any); ok {
		n := len(arr)
		md.LfoCount = &n
	}

	return md
}

func parse(data []byte) (map[string]any, bool) {
	if len(data) == 0 {
		return nil, false
	}
	var root map[string]any
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, false
	}
	return root, true
}

func hasRequiredVitalFields(root map[string]any) bool {
	for _, field := range []string{"preset_styles", "settings", "synth_version"} {
		if _, ok := root[field]; !ok {
			return false
		}
	}
	// settings must be an object
	_, ok := root["settings"].(map[string]any)
	return ok
}

func stringField(root map[string]any, key string) *string {
	if v, ok := root[key].(string); ok {
		return &v
	}
	return nil
}

func boolField(root map[string]any, key string) *bool {
	if v, ok := root[key].(bool); ok {
		return &v
	}
	return nil
}
