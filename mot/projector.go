package mot

// Project maps normalized box onto the on-screen rectangle of the video surface.
// Surface position and size can change between renders (resize, scroll, layout shift),
// so the result should be recomputed every time it is drawn.
func Project(box Box, surface Rectangle) Rectangle {
	return Rectangle{
		X:      surface.X + box.XMin*surface.Width,
		Y:      surface.Y + box.YMin*surface.Height,
		Width:  box.Width() * surface.Width,
		Height: box.Height() * surface.Height,
	}
}

// ProjectTracks maps every track of the snapshot onto the surface, keeping order
func ProjectTracks(tracks []Track, surface Rectangle) []Rectangle {
	result := make([]Rectangle, len(tracks))
	for i := range tracks {
		result[i] = Project(tracks[i].Box, surface)
	}
	return result
}
