package ohttp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
)

const (
	knownLengthRequest  = 0
	knownLengthResponse = 1
)

// ErrMalformedMessage is returned when a binary http message cannot be
// decoded.
var ErrMalformedMessage = errors.New("malformed binary http message")

// Request is a known-length binary http request.
type Request struct {
	Method    string
	Scheme    string
	Authority string
	Path      string
	Header    map[string]string
	Body      []byte
}

// NewRequest returns the binary http request for the given method, target
// url and body.
func NewRequest(method string, target *url.URL, body []byte) *Request {
	path := target.EscapedPath()
	if path == "" {
		path = "/"
	}
	if target.RawQuery != "" {
		path += "?" + target.RawQuery
	}
	return &Request{
		Method:    method,
		Scheme:    target.Scheme,
		Authority: target.Host,
		Path:      path,
		Body:      body,
	}
}

// Marshal encodes the request.
func (r *Request) Marshal() []byte {
	var buf bytes.Buffer
	writeVarint(&buf, knownLengthRequest)
	writeVarBytes(&buf, []byte(r.Method))
	writeVarBytes(&buf, []byte(r.Scheme))
	writeVarBytes(&buf, []byte(r.Authority))
	writeVarBytes(&buf, []byte(r.Path))
	writeFields(&buf, r.Header)
	writeVarBytes(&buf, r.Body)
	writeVarint(&buf, 0)
	return buf.Bytes()
}

// UnmarshalRequest decodes a known-length binary http request.
func UnmarshalRequest(b []byte) (*Request, error) {
	r := bytes.NewReader(b)
	framing, err := readVarint(r)
	if err != nil {
		return nil, err
	}
	if framing != knownLengthRequest {
		return nil, fmt.Errorf("%w: unsupported framing %d", ErrMalformedMessage, framing)
	}

	req := &Request{}
	control := make([][]byte, 4)
	for i := range control {
		if control[i], err = readVarBytes(r); err != nil {
			return nil, err
		}
	}
	req.Method = string(control[0])
	req.Scheme = string(control[1])
	req.Authority = string(control[2])
	req.Path = string(control[3])

	if req.Header, err = readFields(r); err != nil {
		return nil, err
	}
	if req.Body, err = readContent(r); err != nil {
		return nil, err
	}
	if err := checkTrailer(r); err != nil {
		return nil, err
	}
	return req, nil
}

// Response is a known-length binary http response.
type Response struct {
	Status int
	Header map[string]string
	Body   []byte
}

// Marshal encodes the response.
func (r *Response) Marshal() []byte {
	var buf bytes.Buffer
	writeVarint(&buf, knownLengthResponse)
	writeVarint(&buf, uint64(r.Status))
	writeFields(&buf, r.Header)
	writeVarBytes(&buf, r.Body)
	writeVarint(&buf, 0)
	return buf.Bytes()
}

// UnmarshalResponse decodes a known-length binary http response.
// Informational responses are not supported.
func UnmarshalResponse(b []byte) (*Response, error) {
	r := bytes.NewReader(b)
	framing, err := readVarint(r)
	if err != nil {
		return nil, err
	}
	if framing != knownLengthResponse {
		return nil, fmt.Errorf("%w: unsupported framing %d", ErrMalformedMessage, framing)
	}

	status, err := readVarint(r)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 599 {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrMalformedMessage, status)
	}

	res := &Response{Status: int(status)}
	if res.Header, err = readFields(r); err != nil {
		return nil, err
	}
	if res.Body, err = readContent(r); err != nil {
		return nil, err
	}
	if err := checkTrailer(r); err != nil {
		return nil, err
	}
	return res, nil
}

// content may be truncated away entirely.
func readContent(r *bytes.Reader) ([]byte, error) {
	if r.Len() == 0 {
		return nil, nil
	}
	return readVarBytes(r)
}

// trailers are not supported, only their empty section and zero padding.
func checkTrailer(r *bytes.Reader) error {
	if r.Len() == 0 {
		return nil
	}
	l, err := readVarint(r)
	if err != nil {
		return err
	}
	if l != 0 {
		return fmt.Errorf("%w: trailers not supported", ErrMalformedMessage)
	}
	for r.Len() > 0 {
		if b, _ := r.ReadByte(); b != 0 {
			return fmt.Errorf("%w: non zero padding", ErrMalformedMessage)
		}
	}
	return nil
}

func writeFields(buf *bytes.Buffer, fields map[string]string) {
	var section bytes.Buffer
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeVarBytes(&section, []byte(strings.ToLower(k)))
		writeVarBytes(&section, []byte(fields[k]))
	}
	writeVarBytes(buf, section.Bytes())
}

func readFields(r *bytes.Reader) (map[string]string, error) {
	section, err := readVarBytes(r)
	if err != nil {
		return nil, err
	}
	if len(section) == 0 {
		return nil, nil
	}
	fields := make(map[string]string)
	sr := bytes.NewReader(section)
	for sr.Len() > 0 {
		name, err := readVarBytes(sr)
		if err != nil {
			return nil, err
		}
		value, err := readVarBytes(sr)
		if err != nil {
			return nil, err
		}
		fields[string(name)] = string(value)
	}
	return fields, nil
}

func writeVarBytes(buf *bytes.Buffer, b []byte) {
	writeVarint(buf, uint64(len(b)))
	buf.Write(b)
}

func readVarBytes(r *bytes.Reader) ([]byte, error) {
	l, err := readVarint(r)
	if err != nil {
		return nil, err
	}
	if l > uint64(r.Len()) {
		return nil, fmt.Errorf("%w: length %d exceeds message", ErrMalformedMessage, l)
	}
	b := make([]byte, l)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// QUIC variable-length integer encoding (RFC 9000, section 16).
func writeVarint(buf *bytes.Buffer, v uint64) {
	switch {
	case v < 1<<6:
		buf.WriteByte(byte(v))
	case v < 1<<14:
		buf.Write([]byte{0x40 | byte(v>>8), byte(v)})
	case v < 1<<30:
		buf.Write([]byte{0x80 | byte(v>>24), byte(v >> 16), byte(v >> 8), byte(v)})
	default:
		buf.Write([]byte{
			0xc0 | byte(v>>56), byte(v >> 48), byte(v >> 40), byte(v >> 32),
			byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v),
		})
	}
}

func readVarint(r *bytes.Reader) (uint64, error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrMalformedMessage, err)
	}
	l := 1 << (first >> 6)
	v := uint64(first & 0x3f)
	for i := 1; i < l; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("%w: %s", ErrMalformedMessage, err)
		}
		v = v<<8 | uint64(b)
	}
	return v, nil
}
