package service

import (
	"encoding/xml"
	"fmt"
	"time"
)

type dublinCoreCatalog struct {
	XMLName    xml.Name `xml:"dublincore"`
	Xmlns      string   `xml:"xmlns,attr"`
	XmlnsTerms string   `xml:"xmlns:dcterms,attr"`
	Identifier string   `xml:"dcterms:identifier"`
	Title      string   `xml:"dcterms:title"`
	IsPartOf   string   `xml:"dcterms:isPartOf,omitempty"`
	Created    string   `xml:"dcterms:created"`
	Temporal   string   `xml:"dcterms:temporal"`
	Spatial    string   `xml:"dcterms:spatial"`
	Source     string   `xml:"dcterms:source,omitempty"`
}

// episodeCatalog renders the dublincore/episode catalog for an event.
func episodeCatalog(eventId, title, seriesId, agent, source string, start, end time.Time) (string, error) {
	dc := dublinCoreCatalog{
		Xmlns:      "http://www.opencastproject.org/xsd/1.0/dublincore/",
		XmlnsTerms: "http://purl.org/dc/terms/",
		Identifier: eventId,
		Title:      title,
		IsPartOf:   seriesId,
		Created:    start.UTC().Format(time.RFC3339),
		Temporal: fmt.Sprintf("start=%s; end=%s; scheme=W3C-DTF;",
			start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339)),
		Spatial: agent,
		Source:  source,
	}
	out, err := xml.MarshalIndent(dc, "", "  ")
	if err != nil {
		return "", err
	}
	return xml.Header + string(out), nil
}
