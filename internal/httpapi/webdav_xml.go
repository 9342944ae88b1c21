package httpapi

import (
	"encoding/xml"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bit-hyperfs/hyperfs/internal/catalog"
)

// The following mirror DAV: namespace elements for a minimal Level 1
// PROPFIND response, per spec §4.5.

type multiStatus struct {
	XMLName   xml.Name     `xml:"D:multistatus"`
	XMLNSAttr string       `xml:"xmlns:D,attr"`
	Responses []davResponse `xml:"D:response"`
}

type davResponse struct {
	Href     string   `xml:"D:href"`
	PropStat propStat `xml:"D:propstat"`
}

type propStat struct {
	Prop   prop   `xml:"D:prop"`
	Status string `xml:"D:status"`
}

type prop struct {
	DisplayName      string       `xml:"D:displayname"`
	ResourceType     resourceType `xml:"D:resourcetype"`
	ContentLength    string       `xml:"D:getcontentlength,omitempty"`
	LastModified     string       `xml:"D:getlastmodified"`
	CreationDate     string       `xml:"D:creationdate"`
}

type resourceType struct {
	Collection *struct{} `xml:"D:collection"`
}

func newMultiStatus() *multiStatus {
	return &multiStatus{XMLNSAttr: "DAV:"}
}

// encodePathForWebDav percent-encodes a path segment by segment,
// mapping URL-encoded spaces ('+') to '%20', per the original
// handler's per-segment href encoding.
func encodePathForWebDav(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	segments := strings.Split(path, "/")
	var encoded []string
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		encoded = append(encoded, strings.ReplaceAll(url.QueryEscape(seg), "+", "%20"))
	}
	return "/" + strings.Join(encoded, "/")
}

// addResponse appends a <response> for node at webdavPath, formatting
// timestamps per spec §4.5: getlastmodified in RFC 1123 GMT,
// creationdate in ISO 8601.
func addResponse(ms *multiStatus, node catalog.Node, webdavPath string) {
	href := "/webdav" + encodePathForWebDav(webdavPath)

	now := time.Unix(0, node.UploadTimeMS*int64(time.Millisecond)).UTC()

	p := prop{
		DisplayName:  node.Name,
		LastModified: now.Format(http.TimeFormat),
		CreationDate: now.Format(time.RFC3339),
	}
	if node.Kind == catalog.KindDirectory {
		p.ResourceType = resourceType{Collection: &struct{}{}}
	} else {
		p.ContentLength = strconv.FormatInt(node.Size, 10)
	}

	ms.Responses = append(ms.Responses, davResponse{
		Href: href,
		PropStat: propStat{
			Prop:   p,
			Status: "HTTP/1.1 200 OK",
		},
	})
}
