package accession

// CompleteGenome is the assembly level preferred when several records match.
const CompleteGenome = "Complete Genome"

type reportPage struct {
	Reports []Report `json:"reports"`
}

// Report is the subset of a dataset_report record the resolver reads.
type Report struct {
	Accession        string       `json:"accession"`
	CurrentAccession string       `json:"current_accession"`
	PairedAccession  string       `json:"paired_accession"`
	Organism         Organism     `json:"organism"`
	AssemblyInfo     AssemblyInfo `json:"assembly_info"`
}

type Organism struct {
	OrganismName string `json:"organism_name"`
}

type AssemblyInfo struct {
	AssemblyLevel string `json:"assembly_level"`
}
