package models

import (
	"errors"
	"strings"
)

var ErrMalformedDataURI = errors.New("malformed data URI")

// DataURI is an inline base64 attachment.
type DataURI struct {
	MediaType string
	Data      string
}

// ParseDataURI splits "data:<mediatype>;base64,<payload>".
func ParseDataURI(uri string) (DataURI, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return DataURI{}, ErrMalformedDataURI
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok || payload == "" {
		return DataURI{}, ErrMalformedDataURI
	}
	mediaType, ok := strings.CutSuffix(header, ";base64")
	if !ok || mediaType == "" || strings.Contains(mediaType, ";") {
		return DataURI{}, ErrMalformedDataURI
	}
	return DataURI{MediaType: mediaType, Data: payload}, nil
}

func (d DataURI) String() string {
	return "data:" + d.MediaType + ";base64," + d.Data
}
