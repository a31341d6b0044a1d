package sniffer

import (
	"bytes"
	"errors"
	"mime"
	"net/http"
	"strings"
)

// HeadSize is how many leading bytes DetectHead needs.
const HeadSize = 512

type Kind string

const (
	KindJPEG Kind = "jpeg"
	KindPNG  Kind = "png"
	KindGIF  Kind = "gif"
	KindWEBP Kind = "webp"
	KindAVIF Kind = "avif"
	KindSVG  Kind = "svg"
)

var ErrUnknownType = errors.New("unknown image type")

type Result struct {
	Kind Kind
	MIME string
}

// Raster reports whether the decode pipeline can read this kind.
func (r Result) Raster() bool {
	switch r.Kind {
	case KindJPEG, KindPNG, KindGIF, KindWEBP:
		return true
	}
	return false
}

// DetectHead identifies an image by its leading bytes.
func DetectHead(head []byte) (Result, error) {
	if len(head) > HeadSize {
		head = head[:HeadSize]
	}
	switch {
	case len(head) == 0:
		return Result{}, ErrUnknownType
	case isJPEG(head):
		return Result{Kind: KindJPEG, MIME: "image/jpeg"}, nil
	case isPNG(head):
		return Result{Kind: KindPNG, MIME: "image/png"}, nil
	case isGIF(head):
		return Result{Kind: KindGIF, MIME: "image/gif"}, nil
	case isWEBP(head):
		return Result{Kind: KindWEBP, MIME: "image/webp"}, nil
	case isAVIF(head):
		return Result{Kind: KindAVIF, MIME: "image/avif"}, nil
	case isSVG(head):
		return Result{Kind: KindSVG, MIME: "image/svg+xml"}, nil
	}
	return Result{}, ErrUnknownType
}

func isJPEG(head []byte) bool {
	return len(head) > 3 && head[0] == 0xff && head[1] == 0xd8 && head[2] == 0xff
}

var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func isPNG(head []byte) bool {
	return bytes.HasPrefix(head, pngMagic)
}

func isGIF(head []byte) bool {
	return bytes.HasPrefix(head, []byte("GIF87a")) || bytes.HasPrefix(head, []byte("GIF89a"))
}

func isWEBP(head []byte) bool {
	return len(head) >= 12 && bytes.Equal(head[:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WEBP"))
}

func isAVIF(head []byte) bool {
	return len(head) >= 12 && string(head[4:8]) == "ftyp" && bytes.Contains(head[8:], []byte("avif"))
}

func isSVG(head []byte) bool {
	trimmed := strings.TrimSpace(string(head))
	if strings.HasPrefix(trimmed, "<svg") {
		return true
	}
	return strings.HasPrefix(trimmed, "<?xml") && strings.Contains(trimmed, "<svg")
}

// DeclaredType returns the media type from a part's Content-Type header
// without parameters, or "" when absent or malformed.
func DeclaredType(header http.Header) string {
	media, _, err := mime.ParseMediaType(header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return strings.ToLower(media)
}

// IsImageType reports whether mediaType is in the image/* family.
func IsImageType(mediaType string) bool {
	return strings.HasPrefix(mediaType, "image/") && len(mediaType) > len("image/")
}
