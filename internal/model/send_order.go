package model

import "github.com/cockroachdb/errors"

// SendOrder is a closed set. Code switching on it must cover every value.
type SendOrder string

const (
	TextFirst  SendOrder = "text_first"
	MediaFirst SendOrder = "media_first"
	Together   SendOrder = "together"
)

func ParseSendOrder(s string) (SendOrder, error) {
	switch SendOrder(s) {
	case TextFirst, MediaFirst, Together:
		return SendOrder(s), nil
	case "":
		return TextFirst, nil
	}
	return "", errors.Newf("unknown send order %q", s)
}

func (o SendOrder) Valid() bool {
	_, err := ParseSendOrder(string(o))
	return err == nil && o != ""
}

type PartKind string

const (
	PartText     PartKind = "text"
	PartMedia    PartKind = "media"
	PartCombined PartKind = "combined"
)

type ContentPart struct {
	Kind  PartKind   `json:"kind"`
	Text  string     `json:"text,omitempty"`
	Media *MediaItem `json:"media,omitempty"`
}

// ContentUnit is everything one recipient receives for one job, in send order.
type ContentUnit struct {
	VariantOrder int           `json:"variant_order"`
	Parts        []ContentPart `json:"parts"`
}
