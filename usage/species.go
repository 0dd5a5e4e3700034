package usage

// Species is a well-known organism offered as a default choice.
type Species struct {
	OrgID string `json:"org_id"`
	Label string `json:"label"`
}

// KnownSpecies lists commonly optimized-for organisms, sorted by label.
var KnownSpecies = []Species{
	{OrgID: "122771", Label: "African Clawed Frog (Xenopus laevis)"},
	{OrgID: "121713", Label: "Bakers Yeast (Saccharomyces cerevisiae S288C)"},
	{OrgID: "122001", Label: "Caenorhabditis elegans"},
	{OrgID: "16815", Label: "E. Coli (Escherichia coli str. K-12 substr. MG1655)"},
	{OrgID: "122056", Label: "Fruit Fly (Drosophila melanogaster)"},
	{OrgID: "122563", Label: "Human (Homo sapiens)"},
	{OrgID: "122638", Label: "Mouse (Mus musculus)"},
	{OrgID: "122645", Label: "Rat (Rattus norvegicus)"},
	{OrgID: "122263", Label: "Thale Cress (Arabidopsis thaliana)"},
	{OrgID: "122731", Label: "Zebrafish (Danio rerio)"},
}

// LookupSpecies returns the known species with orgID.
func LookupSpecies(orgID string) (Species, bool) {
	for _, s := range KnownSpecies {
		if s.OrgID == orgID {
			return s, true
		}
	}
	return Species{}, false
}
