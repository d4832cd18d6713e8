// Package photo normalizes downloaded report photos before upload.
package photo

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Quality is the JPEG quality used when a photo is re-encoded.
const Quality = 88

// Scaled reports the dimensions after fitting w x h inside maxEdge.
func Scaled(w, h, maxEdge int) (int, int) {
	if maxEdge <= 0 || (w <= maxEdge && h <= maxEdge) {
		return w, h
	}
	if w >= h {
		nh := h * maxEdge / w
		if nh < 1 {
			nh = 1
		}
		return maxEdge, nh
	}
	nw := w * maxEdge / h
	if nw < 1 {
		nw = 1
	}
	return nw, maxEdge
}

// Shrink rewrites the file at path as a JPEG whose longest edge is at most
// maxEdge. JPEGs already within bounds are left untouched. It returns true
// when the file was rewritten.
func Shrink(path string, maxEdge int) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	src, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return false, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	b := src.Bounds()
	w, h := Scaled(b.Dx(), b.Dy(), maxEdge)
	if format == "jpeg" && w == b.Dx() && h == b.Dy() {
		return false, nil
	}

	var img image.Image = src
	if w != b.Dx() || h != b.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
		img = dst
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return false, err
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: Quality}); err != nil {
		f.Close()
		os.Remove(tmp)
		return false, fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return false, err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return false, err
	}
	return true, nil
}
