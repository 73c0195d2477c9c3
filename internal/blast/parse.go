package blast

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
)

// Hit is one row of -outfmt 6 output.
type Hit struct {
	QueryID     string
	SubjectID   string
	Identity    float64
	Length      int
	Mismatches  int
	GapOpens    int
	QueryStart  int
	QueryEnd    int
	SubjectFrom int
	SubjectTo   int
	EValue      float64
	BitScore    float64
}

const outfmt6Columns = 12

// ParseHit parses one tab-separated outfmt 6 line.
func ParseHit(line string) (Hit, error) {
	f := strings.Split(strings.TrimRight(line, "\r\n"), "\t")
	if len(f) < outfmt6Columns {
		return Hit{}, fmt.Errorf("bad outfmt 6 line: %d columns", len(f))
	}

	var h Hit
	var errs []string
	num := func(i int) float64 {
		v, err := strconv.ParseFloat(strings.TrimSpace(f[i]), 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("column %d: %q", i+1, f[i]))
		}
		return v
	}
	integer := func(i int) int { return int(num(i)) }

	h.QueryID = f[0]
	h.SubjectID = f[1]
	h.Identity = num(2)
	h.Length = integer(3)
	h.Mismatches = integer(4)
	h.GapOpens = integer(5)
	h.QueryStart = integer(6)
	h.QueryEnd = integer(7)
	h.SubjectFrom = integer(8)
	h.SubjectTo = integer(9)
	h.EValue = num(10)
	h.BitScore = num(11)

	if len(errs) > 0 {
		return Hit{}, fmt.Errorf("bad outfmt 6 line: %s", strings.Join(errs, ", "))
	}
	return h, nil
}

// ReadHits returns up to limit parsed rows from an outfmt 6 file. Lines that
// do not parse are skipped. limit <= 0 reads everything.
func ReadHits(path string, limit int) ([]Hit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var hits []Hit
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == "" {
			continue
		}
		h, err := ParseHit(sc.Text())
		if err != nil {
			continue
		}
		hits = append(hits, h)
		if limit > 0 && len(hits) == limit {
			break
		}
	}
	return hits, sc.Err()
}

// WriteHits prints hits as an aligned table, best first.
func WriteHits(w io.Writer, hits []Hit) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "QUERY\tSUBJECT\tIDENT%\tLENGTH\tEVALUE\tBITSCORE")
	for _, h := range hits {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%d\t%.3g\t%.1f\n",
			h.QueryID, truncate(h.SubjectID, maxSubjectLen), h.Identity, h.Length, h.EValue, h.BitScore)
	}
	return tw.Flush()
}

const (
	NoMatchSummary     = "no significant match"
	ParseFailedSummary = "result parse failed"
	maxSubjectLen      = 30
)

// Summarize describes the best hit, which blastn writes first.
func Summarize(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ParseFailedSummary
	}
	defer f.Close()

	r := bufio.NewReader(f)
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return NoMatchSummary
	}
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return NoMatchSummary
	}
	return summarizeLine(line)
}

func summarizeLine(line string) string {
	cols := strings.Split(line, "\t")
	if len(cols) < 11 {
		return ParseFailedSummary
	}
	return fmt.Sprintf("best hit %s, identity %s%%, E-value %s",
		truncate(cols[1], maxSubjectLen), cols[2], cols[10])
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
