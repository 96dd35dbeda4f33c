package webdav

import (
	"encoding/xml"
	"fmt"
)

// multistatus mirrors the handful of DAV: elements original_source's
// _build_propfind_xml emits, expressed as Go's encoding/xml structs
// instead of manual ElementTree construction. No WebDAV client library
// exists anywhere in the example pack, so this hand-rolled XML shape is
// standard-library by necessity, not by default.
type multistatus struct {
	XMLName   xml.Name   `xml:"D:multistatus"`
	XMLNS     string     `xml:"xmlns:D,attr"`
	Responses []response `xml:"D:response"`
}

type response struct {
	Href     string   `xml:"D:href"`
	Propstat propstat `xml:"D:propstat"`
}

type propstat struct {
	Prop   prop   `xml:"D:prop"`
	Status string `xml:"D:status"`
}

type prop struct {
	DisplayName      string        `xml:"D:displayname"`
	ResourceType     *resourceType `xml:"D:resourcetype,omitempty"`
	GetLastModified  string        `xml:"D:getlastmodified"`
	GetContentLength *int64        `xml:"D:getcontentlength,omitempty"`
	GetETag          string        `xml:"D:getetag,omitempty"`
}

type resourceType struct {
	Collection *struct{} `xml:"D:collection,omitempty"`
}

// MultistatusXML renders entries (as returned by Gateway.Propfind) into
// the "207 Multi-Status" response body spec.md §4.9's PROPFIND verb
// returns. userID and mountPrefix ("/dav") build each entry's href.
func MultistatusXML(userID, mountPrefix string, entries []Entry) ([]byte, error) {
	ms := multistatus{XMLNS: "DAV:"}
	for _, e := range entries {
		href := fmt.Sprintf("%s/%s/%s", mountPrefix, userID, e.Path)
		if e.IsDir && href[len(href)-1] != '/' {
			href += "/"
		}
		p := prop{
			DisplayName:     e.Name,
			GetLastModified: e.ModTime.UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT"),
		}
		if e.IsDir {
			p.ResourceType = &resourceType{Collection: &struct{}{}}
		} else {
			size := e.Size
			p.GetContentLength = &size
			p.GetETag = `"` + e.ETag + `"`
		}
		ms.Responses = append(ms.Responses, response{
			Href:     href,
			Propstat: propstat{Prop: p, Status: "HTTP/1.1 200 OK"},
		})
	}

	body, err := xml.Marshal(ms)
	if err != nil {
		return nil, fmt.Errorf("encoding multistatus xml: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}
