package m3u

// Default markers of the extended M3U format.
const (
	DefaultHeader    = "#EXTM3U"
	DefaultDirective = "#EXTINF:"

	defaultMaxLineSize = 1024 * 1024
)

// Options controls how EXTINF attributes are mapped onto a live.
// Attribute keys are matched case-sensitively, first hit wins.
type Options struct {
	Header    string
	Directive string

	TitleKeys []string
	GroupKeys []string
	CoverKeys []string
	IDKeys    []string

	// PreferAttributeTitle makes the title attribute win over the
	// trailing comma title. By default the attribute is only a fallback.
	PreferAttributeTitle bool

	MaxLineSize int
}

// DefaultOptions returns the attribute mapping used by common IPTV playlists.
func DefaultOptions() Options {
	return Options{
		Header:      DefaultHeader,
		Directive:   DefaultDirective,
		TitleKeys:   []string{"tvg-name"},
		GroupKeys:   []string{"group-title"},
		CoverKeys:   []string{"tvg-logo", "logo"},
		IDKeys:      []string{"tvg-id"},
		MaxLineSize: defaultMaxLineSize,
	}
}

// Option mutates parser options.
type Option func(*Options)

// WithOptions overlays the non-zero fields of o. PreferAttributeTitle is a
// plain switch and is always taken from o.
func WithOptions(o Options) Option {
	return func(dst *Options) {
		if o.Header != "" {
			dst.Header = o.Header
		}
		if o.Directive != "" {
			dst.Directive = o.Directive
		}
		if len(o.TitleKeys) > 0 {
			dst.TitleKeys = o.TitleKeys
		}
		if len(o.GroupKeys) > 0 {
			dst.GroupKeys = o.GroupKeys
		}
		if len(o.CoverKeys) > 0 {
			dst.CoverKeys = o.CoverKeys
		}
		if len(o.IDKeys) > 0 {
			dst.IDKeys = o.IDKeys
		}
		dst.PreferAttributeTitle = o.PreferAttributeTitle
		if o.MaxLineSize > 0 {
			dst.MaxLineSize = o.MaxLineSize
		}
	}
}

// WithTitleKeys sets the attributes consulted for the display title.
func WithTitleKeys(keys ...string) Option {
	return func(o *Options) { o.TitleKeys = keys }
}

// WithGroupKeys sets the attributes consulted for the group label.
func WithGroupKeys(keys ...string) Option {
	return func(o *Options) { o.GroupKeys = keys }
}

// WithCoverKeys sets the attributes consulted for the cover/logo URL.
func WithCoverKeys(keys ...string) Option {
	return func(o *Options) { o.CoverKeys = keys }
}

// WithPreferAttributeTitle toggles PreferAttributeTitle.
func WithPreferAttributeTitle(v bool) Option {
	return func(o *Options) { o.PreferAttributeTitle = v }
}

// WithMaxLineSize bounds the length of a single playlist line.
func WithMaxLineSize(n int) Option {
	return func(o *Options) { o.MaxLineSize = n }
}

func buildOptions(opts []Option) Options {
	o := DefaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	if o.MaxLineSize <= 0 {
		o.MaxLineSize = defaultMaxLineSize
	}
	return o
}

func firstAttr(attrs map[string]string, keys []string) string {
	for _, k := range keys {
		if v := attrs[k]; v != "" {
			return v
		}
	}
	return ""
}
