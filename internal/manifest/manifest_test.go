package manifest

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// row builds a 20+ column assembly-summary line with the projected columns
// filled in.
func row(accession, category, organism, level, ftp string) string {
	fields := make([]string, 23)
	fields[colAccession] = accession
	fields[colCategory] = category
	fields[colOrganismName] = organism
	fields[colAssemblyLevel] = level
	fields[colFTPPath] = ftp
	return strings.Join(fields, "\t")
}

const header = "#   See assembly_summary_readme.txt for a description of the columns.\n" +
	"#assembly_accession\tbioproject\tbiosample\twgs_master\trefseq_category\n"

func TestParseProjectsAndFilters(t *testing.T) {
	input := header +
		row("GCF_000001", "reference genome", "Escherichia coli", "Complete Genome", "ftp://a") + "\n" +
		row("GCF_000002", "na", "Shigella flexneri", "Contig", "ftp://b") + "\n" +
		row("GCF_000003", "reference genome", "Salmonella enterica", "Complete Genome", "ftp://c") + "\n"

	items, err := Parse(strings.NewReader(input), CategoryEquals("reference genome"))
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "GCF_000001", items[0].Accession)
	require.Equal(t, "Escherichia coli", items[0].OrganismName)
	require.Equal(t, "Complete Genome", items[0].AssemblyLevel)
	require.Equal(t, "ftp://a", items[0].FTPPath)
	require.Equal(t, "GCF_000003", items[1].Accession)
}

func TestParsePreservesManifestOrder(t *testing.T) {
	input := row("GCF_3", "na", "c", "Contig", "f") + "\n" +
		row("GCF_1", "na", "a", "Contig", "f") + "\n" +
		row("GCF_2", "na", "b", "Contig", "f") + "\n"

	items, err := Parse(strings.NewReader(input), All)
	require.NoError(t, err)
	require.Equal(t, []string{"GCF_3", "GCF_1", "GCF_2"},
		[]string{items[0].Accession, items[1].Accession, items[2].Accession})
}

func TestParseSkipsShortRows(t *testing.T) {
	input := "GCF_000009\tshort\trow\n" +
		row("GCF_000010", "na", "x", "Contig", "f") + "\n"

	items, err := Parse(strings.NewReader(input), All)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "GCF_000010", items[0].Accession)
}

func TestParseZeroSurvivorsIsFatal(t *testing.T) {
	input := header + row("GCF_000002", "na", "x", "Contig", "f") + "\n"

	_, err := Parse(strings.NewReader(input), CategoryEquals("reference genome"))
	require.ErrorIs(t, err, ErrNoEligibleAccessions)
}

func TestWriteReadListRoundTrip(t *testing.T) {
	items := []WorkItem{
		{Accession: "GCF_1", OrganismName: "Vibrio sp., strain X", AssemblyLevel: "Contig", Category: "na", FTPPath: "ftp://x"},
		{Accession: "GCF_2", OrganismName: "Bacillus subtilis", AssemblyLevel: "Complete Genome", Category: "reference genome", FTPPath: "ftp://y"},
	}
	path := filepath.Join(t.TempDir(), "db", "bacteria", "bacteria_accessions_2026-08-30.csv")

	require.NoError(t, WriteList(path, items))
	got, err := ReadList(path)
	require.NoError(t, err)
	require.Equal(t, items, got)
}

func TestGroupPredicates(t *testing.T) {
	bacteria, err := LookupGroup("bacteria")
	require.NoError(t, err)
	require.True(t, bacteria.Curated)
	require.True(t, bacteria.Predicate()(WorkItem{Category: "reference genome"}))
	require.False(t, bacteria.Predicate()(WorkItem{Category: "na"}))

	archaea, err := LookupGroup("archaea")
	require.NoError(t, err)
	require.True(t, archaea.Predicate()(WorkItem{Category: "na"}))

	_, err = LookupGroup("protists")
	require.Error(t, err)
}

func TestGroupManifestURL(t *testing.T) {
	virus, err := LookupGroup("virus")
	require.NoError(t, err)

	url := virus.ManifestURL("https://ftp.ncbi.nlm.nih.gov/genomes/refseq", nil)
	require.Equal(t, "https://ftp.ncbi.nlm.nih.gov/genomes/refseq/viral/assembly_summary.txt", url)

	url = virus.ManifestURL("https://ftp.ncbi.nlm.nih.gov/genomes/refseq",
		map[string]string{"virus": "file:///mirror/viral.txt"})
	require.Equal(t, "file:///mirror/viral.txt", url)
}

func TestBucketSourceReadsLocalMirror(t *testing.T) {
	dir := t.TempDir()
	content := header + row("GCF_000001", "na", "x", "Contig", "f") + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "assembly_summary.txt"), []byte(content), 0644))

	src, err := NewSource("file://" + dir + "/assembly_summary.txt")
	require.NoError(t, err)

	body, err := src.Open(context.Background(), "file://"+dir+"/assembly_summary.txt")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.Equal(t, content, string(data))
}

func TestNewSourceSchemes(t *testing.T) {
	src, err := NewSource("https://example.org/assembly_summary.txt")
	require.NoError(t, err)
	require.IsType(t, &HTTPSource{}, src)

	_, err = NewSource("ftp://example.org/assembly_summary.txt")
	require.ErrorContains(t, err, "unsupported manifest url scheme")
}
