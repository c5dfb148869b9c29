package perf

// OptimalImageSize returns the display size of a `width`x`height` image that must fit in `maxWidth`: images that
// already fit keep their size, wider ones are scaled down preserving the aspect ratio.
func OptimalImageSize(width, height, maxWidth float64) (float64 /*width*/, float64 /*height*/) {
	if width <= maxWidth || width <= 0 {
		return width, height
	}
	return maxWidth, maxWidth * height / width
}
