package types

// TargetInfo describes one controllable browser page as reported by the
// browser's debug metadata endpoint, plus whether the registry considers it
// current.
type TargetInfo struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	WSURL   string `json:"-"`
	Current bool   `json:"current"`
}

// Brand identifies which browser family an endpoint was probed under.
type Brand string

const (
	BrandChrome  Brand = "chrome"
	BrandEdge    Brand = "edge"
	BrandFirefox Brand = "firefox"
)

// DefaultDebugPort returns the conventional remote-debugging port for a brand.
func (b Brand) DefaultDebugPort() int {
	switch b {
	case BrandEdge:
		return 9223
	case BrandFirefox:
		return 9224
	default:
		return 9222
	}
}

// KnownBrands lists supported brands in auto-discovery probe order.
func KnownBrands() []Brand {
	return []Brand{BrandChrome, BrandEdge, BrandFirefox}
}

// ValidBrand reports whether s names a supported brand.
func ValidBrand(s string) bool {
	switch Brand(s) {
	case BrandChrome, BrandEdge, BrandFirefox:
		return true
	}
	return false
}
