package dto

// Format is a content-negotiation value accepted by list and object endpoints.
type Format string

const (
	FormatJSON     Format = "json"
	FormatAtom     Format = "atom"
	FormatKeys     Format = "keys"
	FormatVersions Format = "versions"
	FormatCSLJSON  Format = "csljson"
	FormatBib      Format = "bib"
	FormatBibTeX   Format = "bibtex"
	FormatRIS      Format = "ris"
)

// Citation formats are rendered by the external citation service.
var citationFormats = map[Format]struct{}{FormatBib: {}, FormatBibTeX: {}, FormatRIS: {}}

// IsCitation reports whether f is produced by the citation service.
func (f Format) IsCitation() bool {
	_, ok := citationFormats[f]
	return ok
}

// Unbounded reports whether the format returns every match when no limit is given.
func (f Format) Unbounded() bool {
	return f == FormatKeys || f == FormatVersions
}

// Include values embed rendered sub-content into JSON objects.
const (
	IncludeData     = "data"
	IncludeBib      = "bib"
	IncludeCitation = "citation"
	IncludeCSLJSON  = "csljson"
)
