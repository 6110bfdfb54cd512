package models

// PresetKey names a resolvable rollback target.
type PresetKey string

const (
	PresetFactoryDefault PresetKey = "factory_default"
	PresetLastChange     PresetKey = "last_change"
	PresetKnownGood      PresetKey = "known_good"
)

// AllPresetKeys returns the preset keys in display order.
func AllPresetKeys() []PresetKey {
	return []PresetKey{PresetFactoryDefault, PresetLastChange, PresetKnownGood}
}

// Valid reports whether k is a known preset key.
func (k PresetKey) Valid() bool {
	switch k {
	case PresetFactoryDefault, PresetLastChange, PresetKnownGood:
		return true
	}
	return false
}

// RetryPolicyPreset is a named policy snapshot usable as a rollback target.
// FallbackUsed is true when the requested preset had no recorded value for
// the job type and a substitute (factory default) was returned instead —
// callers must surface that, not treat the substitute as authoritative.
type RetryPolicyPreset struct {
	PresetKey    PresetKey           `json:"preset_key"`
	Label        string              `json:"label"`
	Policy       RetryPolicySnapshot `json:"policy"`
	FallbackUsed bool                `json:"fallback_used"`
}
