package config

// Config holds redline configuration.
// Stored at: {workspace}/redline.yaml
type Config struct {
	OCR      OCRCfg      `mapstructure:"ocr" yaml:"ocr"`
	Sources  SourcesCfg  `mapstructure:"sources" yaml:"sources"`
	Matcher  MatcherCfg  `mapstructure:"matcher" yaml:"matcher"`
	Matrix   MatrixCfg   `mapstructure:"matrix" yaml:"matrix"`
	Annotate AnnotateCfg `mapstructure:"annotate" yaml:"annotate"`
	Pipeline PipelineCfg `mapstructure:"pipeline" yaml:"pipeline"`
}

// OCRCfg configures the OCR fallback for scanned pages.
type OCRCfg struct {
	Engine               string   `mapstructure:"engine" yaml:"engine"`                                 // "tesseract"
	TextDensityThreshold int      `mapstructure:"text_density_threshold" yaml:"text_density_threshold"` // chars per page below which OCR kicks in
	DPI                  int      `mapstructure:"dpi" yaml:"dpi"`                                       // rasterization resolution
	ConfidenceFloor      float64  `mapstructure:"confidence_floor" yaml:"confidence_floor"`             // words below this are flagged
	Workers              int      `mapstructure:"workers" yaml:"workers"`                               // 0 means NumCPU
	Languages            []string `mapstructure:"languages" yaml:"languages"`                           // tesseract language codes
}

// SourcesCfg configures how clause database sources are merged.
type SourcesCfg struct {
	// Precedence orders source tags for conflict resolution. Earlier
	// entries win. Sources not listed here rank after all listed ones,
	// alphabetically.
	Precedence []string `mapstructure:"precedence" yaml:"precedence"`
}

// FamilyCfg configures one agency clause family.
type FamilyCfg struct {
	Pattern string `mapstructure:"pattern" yaml:"pattern"` // regexp recognizing the family's clause numbers
}

// MatcherCfg configures clause recognition in document text.
type MatcherCfg struct {
	// WrapJoinTolerance is the maximum vertical gap, in span heights,
	// across which a clause number split over a line wrap is joined.
	WrapJoinTolerance float64              `mapstructure:"wrap_join_tolerance" yaml:"wrap_join_tolerance"`
	Families          map[string]FamilyCfg `mapstructure:"families" yaml:"families"`
}

// MatrixCfg configures compliance matrix generation.
type MatrixCfg struct {
	Aggregation string    `mapstructure:"aggregation" yaml:"aggregation"` // "per-document" or "combined"
	Colors      ColorsCfg `mapstructure:"colors" yaml:"colors"`
}

// ColorsCfg holds the RGB hex fill colors for each classification.
type ColorsCfg struct {
	OK          string `mapstructure:"ok" yaml:"ok"`
	Conditional string `mapstructure:"conditional" yaml:"conditional"`
	Remove      string `mapstructure:"remove" yaml:"remove"`
	Unknown     string `mapstructure:"unknown" yaml:"unknown"`
}

// AnnotateCfg configures highlight generation.
type AnnotateCfg struct {
	// InflateMargin is the maximum number of points an OCR-derived
	// highlight box grows by. The actual growth scales with how
	// uncertain the recognition was.
	InflateMargin float64 `mapstructure:"inflate_margin" yaml:"inflate_margin"`
}

// PipelineCfg configures batch execution.
type PipelineCfg struct {
	Workers int `mapstructure:"workers" yaml:"workers"` // concurrent documents, 0 means NumCPU
}

// Default family grammars. Keys are canonical family names.
const (
	DefaultFARPattern   = `\b\d{2}\.\d{3}(?:-\d{1,3})?\b`
	DefaultDFARSPattern = `\b2\d{2}\.\d{3}(?:-7\d{3})?\b`
	DefaultNASAPattern  = `\b18\d{2}\.\d{3}(?:-\d{1,3})?\b`
)

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		OCR: OCRCfg{
			Engine:               "tesseract",
			TextDensityThreshold: 100,
			DPI:                  300,
			ConfidenceFloor:      0.60,
			Workers:              0,
			Languages:            []string{"eng"},
		},
		Sources: SourcesCfg{
			Precedence: []string{"FAR", "DFARS", "NASA"},
		},
		Matcher: MatcherCfg{
			WrapJoinTolerance: 2.5,
			Families: map[string]FamilyCfg{
				"FAR":   {Pattern: DefaultFARPattern},
				"DFARS": {Pattern: DefaultDFARSPattern},
				"NASA":  {Pattern: DefaultNASAPattern},
			},
		},
		Matrix: MatrixCfg{
			Aggregation: "per-document",
			Colors: ColorsCfg{
				OK:          "C6EFCE",
				Conditional: "FFEB9C",
				Remove:      "FFC7CE",
				Unknown:     "D9D9D9",
			},
		},
		Annotate: AnnotateCfg{
			InflateMargin: 6.0,
		},
		Pipeline: PipelineCfg{
			Workers: 0,
		},
	}
}
