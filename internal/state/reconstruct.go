package state

// Reconstruct flattens history into the point sequence a client replays to
// paint the canvas from scratch. The first point of every entry is
// unconnected; each later point links back to its predecessor in the same
// stroke. The result depends only on entries, so calling it twice on the
// same history yields the same sequence.
func Reconstruct(entries []Entry) []DrawPoint {
	n := 0
	for _, e := range entries {
		n += len(e.Stroke.Points)
	}
	out := make([]DrawPoint, 0, n)

	for _, e := range entries {
		s := e.Stroke
		for i, p := range s.Points {
			dp := DrawPoint{
				X:         p.X,
				Y:         p.Y,
				Brush:     s.Brush,
				Size:      s.Size,
				Color:     s.Color,
				Timestamp: unixMillis(p.Time),
			}
			if i > 0 {
				prev := s.Points[i-1]
				dp.IsConnected = true
				dp.LastPoint = &Linked{X: prev.X, Y: prev.Y}
			}
			out = append(out, dp)
		}
	}
	return out
}
