package field

// PixelToWorld maps the centre of pixel (px, py) to world coordinates.
// The origin is the middle of the image, y points up, and one world unit is
// half the image height, so the visible square spans [-1, 1] vertically.
func PixelToWorld(resolution [2]float32, px, py int) (x, y float32) {
	w, h := resolution[0], resolution[1]
	x = (2*float32(px) + 1 - w) / h
	y = (h - 2*float32(py) - 1) / h
	return x, y
}

// WorldToPixel is the inverse of PixelToWorld, rounded to the nearest pixel.
// Points left of or above the image map to negative indices.
func WorldToPixel(resolution [2]float32, x, y float32) (px, py int) {
	w, h := resolution[0], resolution[1]
	fx := (x*h + w - 1) / 2
	fy := (h - 1 - y*h) / 2
	return int(fx + 0.5), int(fy + 0.5)
}
