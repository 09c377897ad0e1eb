package util

import (
	"bytes"
	"encoding/base64"
)

var (
	jpegMagic = []byte{0xFF, 0xD8}
	pngMagic  = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	pdfMagic  = []byte("%PDF-")
)

func isWebP(b []byte) bool {
	return len(b) >= 12 && bytes.Equal(b[:4], []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WEBP"))
}

// SniffMimeForOCR returns the Yandex Vision mimeType, empty when unknown.
func SniffMimeForOCR(b []byte) string {
	switch {
	case bytes.HasPrefix(b, jpegMagic):
		return "JPEG"
	case bytes.HasPrefix(b, pngMagic):
		return "PNG"
	case bytes.HasPrefix(b, pdfMagic):
		return "PDF"
	}
	return ""
}

// SniffImageMime recognizes the three accepted upload formats by magic bytes.
func SniffImageMime(b []byte) (string, bool) {
	switch {
	case bytes.HasPrefix(b, jpegMagic):
		return "image/jpeg", true
	case bytes.HasPrefix(b, pngMagic):
		return "image/png", true
	case isWebP(b):
		return "image/webp", true
	}
	return "application/octet-stream", false
}

// ExtForMime maps an accepted image mime onto a file extension.
func ExtForMime(mime string) string {
	switch mime {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	}
	return ".jpg"
}

func MakeDataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
