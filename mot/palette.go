package mot

// DefaultPalette is the set of overlay colors handed out to new tracks in round-robin order
var DefaultPalette = []string{
	"#FF3B30",
	"#34C759",
	"#007AFF",
	"#FF9500",
	"#AF52DE",
	"#FFCC00",
	"#5AC8FA",
	"#FF2D55",
	"#A2845E",
	"#00C7BE",
}

// palette is round-robin cursor over fixed list of colors.
// Every call of next consumes a color regardless of the track label.
type palette struct {
	colors []string
	cursor int
}

func newPalette(colors []string) *palette {
	if len(colors) == 0 {
		colors = DefaultPalette
	}
	cp := make([]string, len(colors))
	copy(cp, colors)
	return &palette{colors: cp}
}

func (p *palette) next() string {
	color := p.colors[p.cursor%len(p.colors)]
	p.cursor = (p.cursor + 1) % len(p.colors)
	return color
}
