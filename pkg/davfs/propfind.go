package davfs

import (
	"encoding/xml"
	"path"
	"regexp"
	"strings"
	"time"
)

// propfindBody requests the properties needed for stat-like operations
// at the given depth.
const propfindBody = `<?xml version="1.0" encoding="utf-8"?>` +
	`<propfind xmlns="DAV:">` +
	`<prop>` +
	`<resourcetype/><getcontentlength/><getlastmodified/><displayname/>` +
	`</prop>` +
	`</propfind>`

// okPropstatRE matches the status line of a propstat that actually
// carries values; servers return a second propstat with 404 for
// properties they do not know.
var okPropstatRE = regexp.MustCompile(`^HTTP/.* 200 .*`)

type multistatus struct {
	XMLName   xml.Name           `xml:"DAV: multistatus"`
	Responses []propfindResponse `xml:"response"`
}

type propfindResponse struct {
	Href      string     `xml:"href"`
	Propstats []propstat `xml:"propstat"`
}

type propstat struct {
	Status string       `xml:"status"`
	Prop   propfindProp `xml:"prop"`
}

type propfindProp struct {
	ResourceType  resourceType `xml:"resourcetype"`
	ContentLength int64        `xml:"getcontentlength"`
	LastModified  string       `xml:"getlastmodified"`
	DisplayName   string       `xml:"displayname"`
}

type resourceType struct {
	Collection *struct{} `xml:"collection"`
}

// DavProperty is the parsed view of one PROPFIND response entry.
type DavProperty struct {
	Href         string
	Name         string
	IsCollection bool
	Size         int64
	LastModified time.Time
}

// IsFile reports whether the entry is a plain resource.
func (p DavProperty) IsFile() bool { return !p.IsCollection }

// parseMultistatus decodes a 207 body into one property per response
// entry, keeping only propstats with a 200 status.
func parseMultistatus(body []byte) ([]DavProperty, error) {
	var ms multistatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return nil, err
	}
	props := make([]DavProperty, 0, len(ms.Responses))
	for _, resp := range ms.Responses {
		p := DavProperty{Href: resp.Href}
		for _, ps := range resp.Propstats {
			if !okPropstatRE.MatchString(strings.TrimSpace(ps.Status)) {
				continue
			}
			p.IsCollection = ps.Prop.ResourceType.Collection != nil
			p.Size = ps.Prop.ContentLength
			p.Name = ps.Prop.DisplayName
			if ps.Prop.LastModified != "" {
				if t, err := time.Parse(time.RFC1123, ps.Prop.LastModified); err == nil {
					p.LastModified = t
				}
			}
		}
		// Collections have no meaningful content length.
		if p.IsCollection {
			p.Size = 0
		}
		if p.Name == "" {
			p.Name = path.Base(strings.TrimSuffix(p.Href, "/"))
		}
		props = append(props, p)
	}
	return props, nil
}
