package config

// fillInCompute fills in the compute trade-off: an H.26x preset chosen
// from resolution and frame rate where the configuration left it open.
func fillInCompute(cfg *Root) {
	for _, channel := range cfg.Channels {
		for i := range channel.Qualities {
			q := &channel.Qualities[i]
			if q.Video.H26xPreset != nil {
				continue
			}

			width := *q.Video.Width
			height := *q.Video.Height
			fps := (q.Video.FrameRate.Numerator + q.Video.FrameRate.Denominator - 1) /
				q.Video.FrameRate.Denominator

			var preset H26xPreset
			switch {
			case fps >= 60:
				preset = PresetUltrafast
			case width <= 1920 && height <= 1080:
				if fps <= 30 {
					preset = PresetMedium
				} else {
					preset = PresetFaster
				}
			case width <= 3840 && height <= 2160:
				if fps <= 30 {
					preset = PresetFaster
				} else {
					preset = PresetSuperfast
				}
			default:
				preset = PresetUltrafast
			}
			q.Video.H26xPreset = &preset
		}
	}
}
