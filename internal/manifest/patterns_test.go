package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

// WHAT: A YAML overlay replaces only the lists it names; everything else
// keeps the shipped defaults.
// WHY: Operators adjust one or two pattern lists when the target site
// changes; a partial file must not silently blank the rest of the matcher.
func TestPatternsOverlayMerge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.yaml")
	overlay := `
manifest_markers:
  - ".m3u8"
  - "hlslive"
premium_markers:
  - "members only"
`
	if err := os.WriteFile(path, []byte(overlay), 0o644); err != nil {
		t.Fatalf("write overlay: %v", err)
	}

	over, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	merged := Defaults().Merge(over)

	if len(merged.ManifestMarkers) != 2 || merged.ManifestMarkers[1] != "hlslive" {
		t.Fatalf("manifest markers not replaced: %v", merged.ManifestMarkers)
	}
	if len(merged.PremiumMarkers) != 1 || merged.PremiumMarkers[0] != "members only" {
		t.Fatalf("premium markers not replaced: %v", merged.PremiumMarkers)
	}
	if len(merged.ConfigMarkers) == 0 || merged.ConfigMarkers[0] != "jazzauth" {
		t.Fatalf("untouched list lost defaults: %v", merged.ConfigMarkers)
	}
	if len(merged.PlaySelectors) == 0 {
		t.Fatalf("play selectors lost defaults")
	}
}

// WHAT: LoadFile reports unreadable and malformed files as errors.
// WHY: A typo in the overlay path or syntax must fail startup loudly, not
// leave the service running with half-applied patterns.
func TestLoadFileErrors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("missing file should error")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("manifest_markers: {not: a list"), 0o644); err != nil {
		t.Fatalf("write bad overlay: %v", err)
	}
	if _, err := LoadFile(bad); err == nil {
		t.Fatalf("malformed YAML should error")
	}
}
