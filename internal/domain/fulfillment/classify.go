package fulfillment

import (
	"strings"

	"github.com/clinic/backend/internal/domain/shared"
)

// TreatmentKind groups treatment labels by the downstream work they need
type TreatmentKind string

const (
	TreatmentKindLabProsthetic TreatmentKind = "lab_prosthetic"
	TreatmentKindOrthodontic   TreatmentKind = "orthodontic"
	TreatmentKindOther         TreatmentKind = "other"
)

// Vocabularies are matched against folded labels, so entries are lower case without accents.
var (
	labProstheticTerms = []string{
		"coroa", "crown",
		"ponte", "bridge",
		"faceta", "veneer", "lente de contato",
		"inlay", "onlay", "overlay",
		"protese", "prosthesis", "denture", "dentadura",
		"nucleo metalico", "nucleo fundido",
		"placa miorrelaxante", "placa de bruxismo",
	}
	orthodonticTerms = []string{
		"ortodont", "orthodont",
		"aparelho fixo", "aparelho movel", "aparelho autoligado",
		"alinhador", "aligner",
		"invisalign",
	}
)

// ClassifyTreatment returns the kind of a treatment label. Matching is case and
// accent insensitive and looks for vocabulary terms anywhere in the label.
func ClassifyTreatment(label string) TreatmentKind {
	folded := shared.FoldText(label)
	if folded == "" {
		return TreatmentKindOther
	}
	if containsAny(folded, labProstheticTerms) {
		return TreatmentKindLabProsthetic
	}
	if containsAny(folded, orthodonticTerms) {
		return TreatmentKindOrthodontic
	}
	return TreatmentKindOther
}

func containsAny(s string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(s, term) {
			return true
		}
	}
	return false
}
