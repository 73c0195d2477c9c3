package blast

import (
	"fmt"
	"path"
	"strings"
)

// Mode is a blastn -task value.
type Mode string

const (
	Megablast   Mode = "megablast"
	DCMegablast Mode = "dc-megablast"
	Blastn      Mode = "blastn"
	BlastnShort Mode = "blastn-short"
)

var modes = []Mode{Megablast, DCMegablast, Blastn, BlastnShort}

func ParseMode(s string) (Mode, error) {
	for _, m := range modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unsupported task %q (want one of megablast, dc-megablast, blastn, blastn-short)", s)
}

// ResolveTool appends exe when configured points at a bin directory.
func ResolveTool(configured, exe string) string {
	p := strings.TrimRight(configured, "/")
	if strings.HasSuffix(p, "/bin") || strings.HasSuffix(p, `\bin`) || p == "bin" {
		return strings.TrimRight(p, `\`) + "/" + exe
	}
	return configured
}

// siblingTool finds exe next to the configured blastn. A bare command name
// means "on PATH", so the sibling is looked up on PATH as well.
func siblingTool(blastBin, exe string) string {
	if blastBin == "" || !strings.Contains(blastBin, "/") {
		return exe
	}
	if r := ResolveTool(blastBin, exe); r != blastBin {
		return r
	}
	return path.Join(path.Dir(blastBin), exe)
}

func cmdMkdir(dir string) string {
	return "mkdir -p " + dir
}

func cmdMakeBlastDB(tool, in, out, title string) string {
	return fmt.Sprintf("%s -in %s -dbtype nucl -out %s -title '%s'", tool, in, out, title)
}

func cmdBlastn(tool, query, db string, mode Mode, out string, maxTargets int) string {
	return fmt.Sprintf("%s -query %s -db %s -task %s -out %s -outfmt 6 -max_target_seqs %d",
		tool, query, db, mode, out, maxTargets)
}

func cmdBlastdbInfo(tool, db string) string {
	return fmt.Sprintf("'%s' -db '%s' -info", tool, db)
}

func cmdPathKind(p string) string {
	return fmt.Sprintf("if [ -d '%[1]s' ]; then echo dir; elif [ -e '%[1]s' ]; then echo file; else echo not_found; fi", p)
}
