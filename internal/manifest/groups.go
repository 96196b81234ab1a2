package manifest

import (
	"fmt"
	"sort"
)

// refCategory is the curated refseq category kept for large groups.
const refCategory = "reference genome"

// Group describes one taxonomic group the pipeline can download.
type Group struct {
	Name       string // flag/dir name: archaea, bacteria, fungi, virus, plants
	RemoteName string // directory name in the upstream manifest tree
	Curated    bool   // true: keep reference-genome rows only
}

// Predicate returns the row selection predicate for this group. Curated
// groups keep reference genomes only; the rest take every row.
func (g Group) Predicate() Predicate {
	if g.Curated {
		return CategoryEquals(refCategory)
	}
	return All
}

// ManifestURL derives the group's manifest location from the configured base
// URL, honoring per-group overrides.
func (g Group) ManifestURL(baseURL string, overrides map[string]string) string {
	if url, ok := overrides[g.Name]; ok {
		return url
	}
	return fmt.Sprintf("%s/%s/assembly_summary.txt", baseURL, g.RemoteName)
}

// groups is the registry of supported taxonomic groups. Bacteria and plants
// are far too large to mirror whole, so only their curated reference genomes
// are taken.
var groups = map[string]Group{
	"archaea":  {Name: "archaea", RemoteName: "archaea"},
	"bacteria": {Name: "bacteria", RemoteName: "bacteria", Curated: true},
	"fungi":    {Name: "fungi", RemoteName: "fungi"},
	"virus":    {Name: "virus", RemoteName: "viral"},
	"plants":   {Name: "plants", RemoteName: "plant", Curated: true},
}

// LookupGroup resolves a group by flag name.
func LookupGroup(name string) (Group, error) {
	g, ok := groups[name]
	if !ok {
		return Group{}, fmt.Errorf("unknown taxonomic group %q", name)
	}
	return g, nil
}

// GroupNames returns all supported group names in stable order.
func GroupNames() []string {
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
