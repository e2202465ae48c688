package dto

import "encoding/json"

// SettingView is the representation of one setting.
type SettingView struct {
	Value   json.RawMessage `json:"value"`
	Version int64           `json:"version"`
}

// SettingWrite is one entry of a settings write payload.
type SettingWrite struct {
	Value   json.RawMessage `json:"value"`
	Version *int64          `json:"version,omitempty"`
}
