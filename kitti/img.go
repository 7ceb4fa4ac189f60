package kitti

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"github.com/chai2010/tiff"
	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// backgroundColor marks non-road pixels in KITTI ground truth images.
var backgroundColor = color.NRGBA{R: 255, G: 0, B: 0, A: 255}

// roadColor is the overlay colour of predicted road pixels.
var roadColor = color.NRGBA{R: 0, G: 255, B: 0, A: 127}

// readImage reads image from file.
func readImage(filename string) (image.Image, error) {
	ext := filepath.Ext(filename)
	switch ext {
	case ".png", ".PNG", ".jpg", ".jpeg", ".JPG", ".JPEG":
		return imaging.Open(filename)
	case ".tiff", ".tif", ".TIFF", ".TIF":
		f, err := os.Open(filename)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return tiff.Decode(f)
	default:
		err := fmt.Errorf("Unsupported image format: %v", ext)
		return nil, err
	}
}

// resizeImage scales an RGB image to w x h with Lanczos filtering.
func resizeImage(img image.Image, w, h int) *image.NRGBA {
	return imaging.Clone(resize.Resize(uint(w), uint(h), img, resize.Lanczos3))
}

// resizeLabel scales a ground truth image by nearest sampling. Every output
// pixel is a copy of one input pixel, so class colours never blend.
func resizeLabel(img image.Image, w, h int) image.Image {
	return imaging.Resize(img, w, h, imaging.NearestNeighbor)
}

// imageToCHW converts an image to float32 values in [0, 1], laid out as
// [3 H W].
func imageToCHW(img *image.NRGBA) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	plane := w * h
	out := make([]float32, 3*plane)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := img.PixOffset(b.Min.X+x, b.Min.Y+y)
			i := y*w + x
			out[i] = float32(img.Pix[off]) / 255
			out[plane+i] = float32(img.Pix[off+1]) / 255
			out[2*plane+i] = float32(img.Pix[off+2]) / 255
		}
	}
	return out
}

// labelToOneHot encodes a ground truth image as [2 H W]: channel 0 is
// background (exactly backgroundColor), channel 1 everything else.
func labelToOneHot(img image.Image) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	plane := w * h
	out := make([]float32, 2*plane)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			i := y*w + x
			if c.R == backgroundColor.R && c.G == backgroundColor.G && c.B == backgroundColor.B {
				out[i] = 1
			} else {
				out[plane+i] = 1
			}
		}
	}
	return out
}

// Overlay paints road pixels of img in semi-transparent green. road is
// row-major with one entry per pixel of img.
func Overlay(img image.Image, road []bool) (*image.RGBA, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if len(road) != w*h {
		return nil, errors.Errorf("kitti: mask has %v pixels, image has %v", len(road), w*h)
	}

	rec := image.Rect(0, 0, w, h)
	dst := image.NewRGBA(rec)
	draw.Draw(dst, rec, img, b.Min, draw.Src)

	mask := image.NewNRGBA(rec)
	for i, r := range road {
		if r {
			mask.SetNRGBA(i%w, i/w, roadColor)
		}
	}
	draw.Draw(dst, rec, mask, image.Point{}, draw.Over)

	return dst, nil
}

func savePNG(path string, img image.Image) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()

	return png.Encode(out, img)
}
