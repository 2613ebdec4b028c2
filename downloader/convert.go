package downloader

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// errRemoveOriginal reports that the JPEG was written but the source could not be removed.
var errRemoveOriginal = errors.New("remove original")

var removeFile = os.Remove

// convertToJPEG re-encodes src as a JPEG at dst and removes src. On error src is
// left in place; an error wrapping errRemoveOriginal means dst is complete.
func convertToJPEG(src, dst string, quality int) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %q: %w", src, err)
	}
	img, _, err := image.Decode(in)
	in.Close()
	if err != nil {
		return fmt.Errorf("decode %q: %w", src, err)
	}

	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %q: %w", tmp, err)
	}
	if err := jpeg.Encode(out, toRGB(img), &jpeg.Options{Quality: quality}); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode %q: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %q: %w", tmp, err)
	}
	if src != dst {
		if err := removeFile(src); err != nil {
			return fmt.Errorf("%w %q: %w", errRemoveOriginal, src, err)
		}
	}
	return nil
}

// toRGB drops alpha and palette channels, keeping the stored color values.
// Images without either are returned as is.
func toRGB(img image.Image) image.Image {
	switch img.(type) {
	case *image.YCbCr, *image.Gray, *image.Gray16, *image.CMYK:
		return img
	}

	bounds := img.Bounds()
	rgb := image.NewRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			rgb.SetRGBA(x, y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff})
		}
	}
	return rgb
}
