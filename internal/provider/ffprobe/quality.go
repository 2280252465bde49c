package ffprobe

var (
	resolutionTiers  = []float64{0, 480, 720, 1080, 2160}
	resolutionScores = []float64{0, 25, 50, 75, 100}

	// Bitrate tiers in Mbps, keyed by resolution tier
	bitrateTiers = map[int][]float64{
		480:  {0, 1},
		720:  {1, 2.5, 5},
		1080: {2.5, 5, 10, 20},
		2160: {5, 10, 20, 40},
	}
	bitrateScores = map[int][]float64{
		480:  {0, 15},
		720:  {15, 25, 40},
		1080: {25, 35, 45, 60},
		2160: {35, 45, 60, 80},
	}
)

// QualityIndex scores a file from 0 to 100 as the mean of a resolution score
// and a bitrate score judged against its resolution tier. Files without a
// known bitrate score 0.
func (m MediaInfo) QualityIndex() int {
	if m.BitRate <= 0 {
		return 0
	}
	height := float64(m.Height)
	resScore := interpolate(height, resolutionTiers, resolutionScores)

	tier := 480
	switch {
	case m.Height >= 2160:
		tier = 2160
	case m.Height >= 1080:
		tier = 1080
	case m.Height >= 720:
		tier = 720
	}
	mbps := float64(m.BitRate) / 1_000_000
	brScore := interpolate(mbps, bitrateTiers[tier], bitrateScores[tier])

	return int((resScore + brScore) / 2)
}

// interpolate maps x onto ys by piecewise linear interpolation over xs,
// clamping outside the first and last points.
func interpolate(x float64, xs, ys []float64) float64 {
	if x <= xs[0] {
		return ys[0]
	}
	last := len(xs) - 1
	if x >= xs[last] {
		return ys[last]
	}
	for i := 1; i <= last; i++ {
		if x < xs[i] {
			x1, x2 := xs[i-1], xs[i]
			y1, y2 := ys[i-1], ys[i]
			return y1 + (x-x1)*(y2-y1)/(x2-x1)
		}
	}
	return ys[last]
}
