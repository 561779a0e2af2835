package svg

// BarOpts customises the horizontal bar renderer.
type BarOpts struct {
	Title       string
	Description string
	Color       string
	AxisColor   string
	GridColor   string
	// LabelWidth reserves space left of the bars for category names.
	LabelWidth float64
	Padding    float64
	TickCount  int
	// FormatValue renders tick and bar values; formatTick when nil.
	FormatValue func(float64) string
}

// Defaults for dashboard charts.
const (
	DefaultWidth      = 720
	DefaultBarHeight  = 22
	DefaultPadding    = 24.0
	DefaultLabelWidth = 180.0
	DefaultTicks      = 4
)
