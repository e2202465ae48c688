package dto

// Link is a single hyperlink in an object's links block.
type Link struct {
	Href string `json:"href"`
	Type string `json:"type"`
}

// LibraryView describes the owning library of an object.
type LibraryView struct {
	Type  string          `json:"type"`
	ID    int64           `json:"id"`
	Name  string          `json:"name"`
	Links map[string]Link `json:"links"`
}

// ObjectView is the JSON representation of a collection, item, search or tag.
type ObjectView struct {
	Key      string                 `json:"key,omitempty"`
	Tag      string                 `json:"tag,omitempty"`
	Version  int64                  `json:"version"`
	Library  *LibraryView           `json:"library,omitempty"`
	Links    map[string]Link        `json:"links,omitempty"`
	Meta     map[string]interface{} `json:"meta"`
	Bib      string                 `json:"bib,omitempty"`
	Citation string                 `json:"citation,omitempty"`
	CSLJSON  interface{}            `json:"csljson,omitempty"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

// DeletedView lists keys removed since a version.
type DeletedView struct {
	Collections []string `json:"collections"`
	Items       []string `json:"items"`
	Searches    []string `json:"searches"`
	Tags        []string `json:"tags"`
	Settings    []string `json:"settings"`
}

// NewDeletedView returns a view with empty, non-nil lists.
func NewDeletedView() DeletedView {
	return DeletedView{
		Collections: []string{},
		Items:       []string{},
		Searches:    []string{},
		Tags:        []string{},
		Settings:    []string{},
	}
}
