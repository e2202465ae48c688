package dto

import "encoding/xml"

// AtomFeed is the Atom envelope for list responses.
type AtomFeed struct {
	XMLName      xml.Name    `xml:"feed"`
	Xmlns        string      `xml:"xmlns,attr"`
	XmlnsZAPI    string      `xml:"xmlns:zapi,attr"`
	Title        string      `xml:"title"`
	ID           string      `xml:"id"`
	Links        []AtomLink  `xml:"link"`
	TotalResults int         `xml:"zapi:totalResults"`
	Updated      string      `xml:"updated"`
	Entries      []AtomEntry `xml:"entry"`
}

// AtomLink is an Atom link element.
type AtomLink struct {
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr,omitempty"`
	Href string `xml:"href,attr"`
}

// AtomEntry is one object in an Atom feed.
type AtomEntry struct {
	Title     string      `xml:"title"`
	ID        string      `xml:"id"`
	Published string      `xml:"published,omitempty"`
	Updated   string      `xml:"updated"`
	Links     []AtomLink  `xml:"link"`
	Key       string      `xml:"zapi:key"`
	Version   int64       `xml:"zapi:version"`
	ItemType  string      `xml:"zapi:itemType,omitempty"`
	Children  *int        `xml:"zapi:numChildren,omitempty"`
	Content   AtomContent `xml:"content"`
}

// AtomContent carries the embedded JSON representation.
type AtomContent struct {
	Type string `xml:"type,attr"`
	Body string `xml:",chardata"`
}
