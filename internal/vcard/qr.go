package vcard

import (
	"bytes"
	"errors"
	"image"
	"image/png"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	qrgen "github.com/skip2/go-qrcode"
)

// QR code errors
var (
	ErrQREncode    = errors.New("failed to encode QR code")
	ErrQRDecode    = errors.New("failed to decode QR code")
	ErrInvalidSize = errors.New("invalid QR code size")
)

const (
	// DefaultQRSize is the default QR code size in pixels.
	DefaultQRSize = 256
	// MaxQRSize is the largest QR code size accepted.
	MaxQRSize = 4096
)

func qrSize(size int) (int, error) {
	if size <= 0 {
		return DefaultQRSize, nil
	}
	if size > MaxQRSize {
		return 0, ErrInvalidSize
	}
	return size, nil
}

// VCardToQR generates a QR code PNG from a vCard string.
func VCardToQR(vcardStr string, size int) ([]byte, error) {
	if vcardStr == "" {
		return nil, ErrEmptyVCard
	}
	size, err := qrSize(size)
	if err != nil {
		return nil, err
	}

	qr, err := qrgen.New(vcardStr, qrgen.Medium)
	if err != nil {
		return nil, errors.Join(ErrQREncode, err)
	}

	pngData, err := qr.PNG(size)
	if err != nil {
		return nil, errors.Join(ErrQREncode, err)
	}

	return pngData, nil
}

// QRToVCard scans a QR code PNG and extracts the vCard string.
func QRToVCard(pngData []byte) (string, error) {
	if len(pngData) == 0 {
		return "", ErrQRDecode
	}

	img, err := png.Decode(bytes.NewReader(pngData))
	if err != nil {
		return "", errors.Join(ErrQRDecode, err)
	}

	return scanImage(img)
}

// scanImage reads the text of the QR code in img.
func scanImage(img image.Image) (string, error) {
	if img == nil {
		return "", ErrQRDecode
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", errors.Join(ErrQRDecode, err)
	}

	reader := qrcode.NewQRCodeReader()
	result, err := reader.Decode(bmp, nil)
	if err != nil {
		return "", errors.Join(ErrQRDecode, err)
	}

	return result.GetText(), nil
}

// QR encodes the bag and renders it as a QR code PNG.
func (b *Bag) QR(size int) ([]byte, error) {
	text, err := b.String()
	if err != nil {
		return nil, errors.Join(ErrQREncode, err)
	}
	return VCardToQR(text, size)
}

// ParseQR scans a QR code PNG and parses the vCard it carries.
func ParseQR(pngData []byte) (*Bag, error) {
	text, err := QRToVCard(pngData)
	if err != nil {
		return nil, err
	}
	return Parse(text)
}
