package accession

import (
	"context"
	"errors"
	"strings"
)

const (
	LinkPrefix = "https://www.ncbi.nlm.nih.gov/datasets/genome/"
	NotFound   = "Not Found"
	missing    = "N/A"
)

// Strategy is one tier of the lookup cascade.
type Strategy struct {
	Name    string
	Filters map[string]string
}

// Strategies are tried in order; the first one that yields a record wins.
var Strategies = []Strategy{
	{Name: "refseq-reference", Filters: map[string]string{
		"filters.assembly_source": "refseq",
		"filters.reference_only":  "true",
	}},
	{Name: "refseq", Filters: map[string]string{"filters.assembly_source": "refseq"}},
	{Name: "genbank", Filters: map[string]string{"filters.assembly_source": "genbank"}},
}

// Lookup is satisfied by *Client.
type Lookup interface {
	DatasetReport(ctx context.Context, key string, s Strategy) ([]Report, error)
}

// Record is what gets written into the SciName, Link and Accession columns.
type Record struct {
	SciName   string
	Link      string
	Accession string
}

func (r Record) IsZero() bool { return r == Record{} }

func notFound() Record { return Record{SciName: NotFound} }

func errorRecord(err error) Record { return Record{SciName: "Error: " + err.Error()} }

// Resolve runs the strategy cascade for one lookup key. A blank key, or a
// cancellation observed mid-cascade, yields the zero Record.
func Resolve(ctx context.Context, l Lookup, key string) Record {
	key = strings.TrimSpace(key)
	if key == "" {
		return Record{}
	}
	for _, s := range Strategies {
		if ctx.Err() != nil {
			return Record{}
		}
		reports, err := l.DatasetReport(ctx, key, s)
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) {
				continue
			}
			if ctx.Err() != nil {
				return Record{}
			}
			return errorRecord(err)
		}
		if len(reports) > 0 {
			return recordFrom(pick(reports))
		}
	}
	return notFound()
}

// pick prefers the first complete genome and otherwise trusts upstream order.
func pick(reports []Report) Report {
	for _, r := range reports {
		if r.AssemblyInfo.AssemblyLevel == CompleteGenome {
			return r
		}
	}
	return reports[0]
}

func recordFrom(r Report) Record {
	rec := Record{SciName: r.Organism.OrganismName}
	if rec.SciName == "" {
		rec.SciName = missing
	}
	if r.CurrentAccession != "" {
		rec.Link = LinkPrefix + r.CurrentAccession
	}
	switch {
	case strings.HasPrefix(r.PairedAccession, "GCF"):
		rec.Accession = r.PairedAccession
	case r.CurrentAccession != "":
		rec.Accession = r.CurrentAccession
	case r.Accession != "":
		rec.Accession = r.Accession
	default:
		rec.Accession = missing
	}
	return rec
}
