package bridge

// Browser operations understood by the executor runtime. The bridge forwards
// any command name; this catalog is what the issuer exposes as tools.
const (
	OpSnapshot       = "snapshot"
	OpEvaluate       = "evaluate"
	OpClick          = "click"
	OpFill           = "fill"
	OpSelectOption   = "selectOption"
	OpNavigate       = "navigate"
	OpGetConsoleLogs = "getConsoleLogs"
	OpScreenshot     = "screenshot"
)

var operations = []string{
	OpSnapshot,
	OpEvaluate,
	OpClick,
	OpFill,
	OpSelectOption,
	OpNavigate,
	OpGetConsoleLogs,
	OpScreenshot,
}

// Operations returns the catalog in a stable order.
func Operations() []string {
	return append([]string(nil), operations...)
}

// IsOperation reports whether name is in the catalog.
func IsOperation(name string) bool {
	for _, op := range operations {
		if op == name {
			return true
		}
	}
	return false
}

// Parameter shapes for the catalog.

type EvaluateParams struct {
	Expression string `json:"expression"`
}

type ClickParams struct {
	Selector string `json:"selector"`
}

type FillParams struct {
	Selector string `json:"selector"`
	Value    string `json:"value"`
}

type SelectOptionParams struct {
	Selector string   `json:"selector"`
	Values   []string `json:"values"`
}

type NavigateParams struct {
	URL string `json:"url"`
}

type ConsoleLogsParams struct {
	Level string `json:"level,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

type ScreenshotParams struct {
	FullPage bool   `json:"fullPage,omitempty"`
	Format   string `json:"format,omitempty"`
}
