package feed

const (
	DefaultOverscan          = 400
	DefaultLookahead         = 200
	DefaultAtBottomThreshold = 100
	DefaultPageSize          = 50
)

// Options tune a channel's engine. Extents are in the renderer's unit
// (pixels for a graphical client, rows for a terminal).
type Options struct {
	Cap               int        `yaml:"cap"`
	KeepWindow        int        `yaml:"keep_window"`
	Overscan          float64    `yaml:"overscan"`
	Lookahead         float64    `yaml:"lookahead"`
	AtBottomThreshold float64    `yaml:"at_bottom_threshold"`
	PageSize          int        `yaml:"page_size"`
	Heuristics        Heuristics `yaml:"heuristics"`
}

func DefaultOptions() Options {
	return Options{
		Cap:               DefaultCap,
		KeepWindow:        DefaultKeepWindow,
		Overscan:          DefaultOverscan,
		Lookahead:         DefaultLookahead,
		AtBottomThreshold: DefaultAtBottomThreshold,
		PageSize:          DefaultPageSize,
		Heuristics:        DefaultHeuristics,
	}
}

// WithDefaults fills zero fields from DefaultOptions.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.Cap <= 0 {
		o.Cap = d.Cap
	}
	if o.KeepWindow <= 0 {
		o.KeepWindow = d.KeepWindow
	}
	if o.Overscan <= 0 {
		o.Overscan = d.Overscan
	}
	if o.Lookahead <= 0 {
		o.Lookahead = d.Lookahead
	}
	if o.AtBottomThreshold <= 0 {
		o.AtBottomThreshold = d.AtBottomThreshold
	}
	if o.PageSize <= 0 {
		o.PageSize = d.PageSize
	}
	if o.Heuristics == (Heuristics{}) {
		o.Heuristics = d.Heuristics
	}
	return o
}
