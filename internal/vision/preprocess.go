package vision

import "image"

func preprocessForDetection(img image.Image, targetW, targetH int) []float32 {
	return imageToFloat32CHW(img, targetW, targetH, [3]float32{127.5, 127.5, 127.5}, [3]float32{128.0, 128.0, 128.0})
}

func preprocessForEmbedding(img image.Image, targetW, targetH int) []float32 {
	return imageToFloat32CHW(img, targetW, targetH, [3]float32{127.5, 127.5, 127.5}, [3]float32{127.5, 127.5, 127.5})
}

// imageToFloat32CHW converts an image to CHW float32 format with
// per-channel normalization: pixel = (pixel - mean) / std.
func imageToFloat32CHW(img image.Image, targetW, targetH int, mean, std [3]float32) []float32 {
	resized := resizeImage(img, targetW, targetH)
	bounds := resized.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()

	data := make([]float32, 3*h*w)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := resized.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()

			// 16-bit to 8-bit
			rf := float32(r >> 8)
			gf := float32(g >> 8)
			bf := float32(b >> 8)

			idx := y*w + x
			data[0*h*w+idx] = (rf - mean[0]) / std[0]
			data[1*h*w+idx] = (gf - mean[1]) / std[1]
			data[2*h*w+idx] = (bf - mean[2]) / std[2]
		}
	}

	return data
}

// resizeImage performs nearest-neighbour resize (fast, good enough for ML input).
func resizeImage(img image.Image, targetW, targetH int) image.Image {
	bounds := img.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()

	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))

	for y := 0; y < targetH; y++ {
		for x := 0; x < targetW; x++ {
			srcX := bounds.Min.X + x*srcW/targetW
			srcY := bounds.Min.Y + y*srcH/targetH
			dst.Set(x, y, img.At(srcX, srcY))
		}
	}

	return dst
}

// cropFace extracts a face region from the image given a bounding box,
// padded by 10% per side. Returns nil for a degenerate box.
func cropFace(img image.Image, bbox [4]float32) image.Image {
	bounds := img.Bounds()

	x1 := int(bbox[0])
	y1 := int(bbox[1])
	x2 := int(bbox[2])
	y2 := int(bbox[3])

	x1, y1, x2, y2 = clampRect(x1, y1, x2, y2, bounds)

	w := x2 - x1
	h := y2 - y1
	if w <= 0 || h <= 0 {
		return nil
	}

	padW := int(float32(w) * 0.1)
	padH := int(float32(h) * 0.1)
	x1, y1, x2, y2 = clampRect(x1-padW, y1-padH, x2+padW, y2+padH, bounds)

	crop := image.NewRGBA(image.Rect(0, 0, x2-x1, y2-y1))
	for cy := y1; cy < y2; cy++ {
		for cx := x1; cx < x2; cx++ {
			crop.Set(cx-x1, cy-y1, img.At(cx, cy))
		}
	}

	return crop
}

func clampRect(x1, y1, x2, y2 int, bounds image.Rectangle) (int, int, int, int) {
	if x1 < bounds.Min.X {
		x1 = bounds.Min.X
	}
	if y1 < bounds.Min.Y {
		y1 = bounds.Min.Y
	}
	if x2 > bounds.Max.X {
		x2 = bounds.Max.X
	}
	if y2 > bounds.Max.Y {
		y2 = bounds.Max.Y
	}
	return x1, y1, x2, y2
}
