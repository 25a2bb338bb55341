package webdav

import (
	"bytes"
	"encoding/xml"
	"hash/fnv"
	"mime"
	"path"
	"strconv"
	"time"

	"jardav/pkg/types"
)

const xmlHeader = `<?xml version="1.0" encoding="utf-8"?>` + "\n"

const StatusOK = "HTTP/1.1 200 OK"

// WebDAV XML structures
type Multistatus struct {
	XMLName   xml.Name   `xml:"DAV: multistatus"`
	Responses []Response `xml:"response"`
}

type Response struct {
	XMLName  xml.Name `xml:"DAV: response"`
	Href     string   `xml:"href"`
	Propstat Propstat `xml:"propstat"`
}

type Propstat struct {
	XMLName xml.Name `xml:"DAV: propstat"`
	Prop    Prop     `xml:"prop"`
	Status  string   `xml:"status"`
}

type Prop struct {
	XMLName       xml.Name      `xml:"DAV: prop"`
	DisplayName   string        `xml:"displayname,omitempty"`
	ResourceType  *ResourceType `xml:"resourcetype,omitempty"`
	ContentLength *int64        `xml:"getcontentlength,omitempty"`
	ContentType   string        `xml:"getcontenttype,omitempty"`
	LastModified  string        `xml:"getlastmodified,omitempty"`
	CreationDate  string        `xml:"creationdate,omitempty"`
	ETag          string        `xml:"getetag,omitempty"`
}

type ResourceType struct {
	XMLName    xml.Name    `xml:"DAV: resourcetype"`
	Collection *Collection `xml:"collection,omitempty"`
}

type Collection struct {
	XMLName xml.Name `xml:"DAV: collection"`
}

// PropFind is a PROPFIND request body. Every property is always returned,
// so the body is only checked for well-formedness.
type PropFind struct {
	XMLName  xml.Name  `xml:"DAV: propfind"`
	Prop     *PropReq  `xml:"prop,omitempty"`
	AllProp  *struct{} `xml:"allprop,omitempty"`
	PropName *struct{} `xml:"propname,omitempty"`
}

type PropReq struct {
	XMLName       xml.Name  `xml:"DAV: prop"`
	DisplayName   *struct{} `xml:"displayname,omitempty"`
	ResourceType  *struct{} `xml:"resourcetype,omitempty"`
	ContentLength *struct{} `xml:"getcontentlength,omitempty"`
	ContentType   *struct{} `xml:"getcontenttype,omitempty"`
	LastModified  *struct{} `xml:"getlastmodified,omitempty"`
	CreationDate  *struct{} `xml:"creationdate,omitempty"`
	ETag          *struct{} `xml:"getetag,omitempty"`
}

// NewResponse describes one node of an archive. Directory hrefs get a
// trailing slash.
func NewResponse(href, name, addr string, st types.FileStat) Response {
	prop := Prop{
		DisplayName:  name,
		LastModified: FormatTime(st.ModifiedAt),
		CreationDate: FormatCreationDate(st.CreatedAt),
		ETag:         GenerateETag(addr, st.ModifiedAt, st.Size),
	}

	if st.Kind == types.KindDirectory {
		if href == "" || href[len(href)-1] != '/' {
			href += "/"
		}
		prop.ResourceType = &ResourceType{Collection: &Collection{}}
	} else {
		size := st.Size
		prop.ContentLength = &size
		prop.ContentType = ContentType(name)
	}

	return Response{
		Href:     href,
		Propstat: Propstat{Prop: prop, Status: StatusOK},
	}
}

// NewCollection describes a directory that has no archive behind it, such
// as the list of mounts.
func NewCollection(href, name string) Response {
	if href == "" || href[len(href)-1] != '/' {
		href += "/"
	}
	return Response{
		Href: href,
		Propstat: Propstat{
			Prop: Prop{
				DisplayName:  name,
				ResourceType: &ResourceType{Collection: &Collection{}},
			},
			Status: StatusOK,
		},
	}
}

// Marshal renders a multistatus document with its XML declaration.
func Marshal(ms Multistatus) ([]byte, error) {
	data, err := xml.MarshalIndent(ms, "", "  ")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(len(xmlHeader) + len(data))
	buf.WriteString(xmlHeader)
	buf.Write(data)
	return buf.Bytes(), nil
}

// ContentType guesses a media type from the entry name.
func ContentType(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// FormatTime formats a time for getlastmodified.
func FormatTime(t time.Time) string {
	return t.UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT")
}

// FormatCreationDate formats a time for creationdate.
func FormatCreationDate(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// GenerateETag derives an ETag from an address, its modification time and
// size.
func GenerateETag(addr string, modTime time.Time, size int64) string {
	h := fnv.New64a()
	h.Write([]byte(addr))
	return `"` + strconv.FormatUint(h.Sum64(), 16) + "-" +
		strconv.FormatInt(modTime.Unix(), 16) + "-" +
		strconv.FormatInt(size, 16) + `"`
}
