package audit

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
)

const (
	requestMarker  = '>'
	responseMarker = '<'
	separator      = "--------------------------"
)

// FormatRequest renders the request half of an exchange:
//
//	> METHOD TARGET VERSION
//	> Header-Name: value
//	>
//	>
//	<body>
//	> --------------------------
func FormatRequest(r *http.Request, body []byte) []byte {
	target := r.RequestURI
	if target == "" {
		target = r.URL.RequestURI()
	}
	header := r.Header
	if r.Host != "" && header.Get("Host") == "" {
		header = header.Clone()
		header.Set("Host", r.Host)
	}
	return formatEntry(requestMarker, fmt.Sprintf("%s %s %s", r.Method, target, r.Proto), header, body)
}

// FormatResponse renders the response half of an exchange. proto is the
// protocol version the request arrived with.
func FormatResponse(proto string, status int, header http.Header, body []byte) []byte {
	return formatEntry(responseMarker, fmt.Sprintf("%s %d %s", proto, status, http.StatusText(status)), header, body)
}

// Header names are written in canonical form, sorted, one line per value.
func formatEntry(marker byte, firstLine string, header http.Header, body []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(body) + 512)

	prefix := []byte{marker, ' '}
	buf.Write(prefix)
	buf.WriteString(firstLine)
	buf.WriteByte('\n')

	keys := make([]string, 0, len(header))
	for k := range header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range header[k] {
			buf.Write(prefix)
			buf.WriteString(k)
			buf.WriteString(": ")
			buf.WriteString(v)
			buf.WriteByte('\n')
		}
	}

	buf.WriteByte(marker)
	buf.WriteByte('\n')
	buf.WriteByte(marker)
	buf.WriteByte('\n')
	buf.Write(body)
	buf.WriteByte('\n')
	buf.Write(prefix)
	buf.WriteString(separator)
	buf.WriteString("\n\n")
	return buf.Bytes()
}
