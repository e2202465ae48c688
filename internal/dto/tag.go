package dto

// TagView is the JSON representation of an aggregated tag.
type TagView struct {
	Tag   string          `json:"tag"`
	Links map[string]Link `json:"links"`
	Meta  TagMeta         `json:"meta"`
}

// TagMeta carries the tag type and how many items use it.
type TagMeta struct {
	Type     int `json:"type"`
	NumItems int `json:"numItems"`
}
