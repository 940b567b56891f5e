package postprocess

import (
	"regexp"
	"strings"
)

// Complexity ratings derived from the indicator vocabulary.
const (
	ComplexitySimple  = "simple"
	ComplexityMedium  = "medium"
	ComplexityComplex = "complex"
)

// legalAreaTerms maps each legal area to the vocabulary that signals it.
// Declarative data, not branching logic, so localization stays a table edit.
var legalAreaTerms = []struct {
	Area  string
	Terms []string
}{
	{"employment_law", []string{"employment", "employee", "employer", "dismissal", "termination", "salary", "wages", "leave", "redundancy"}},
	{"contract_law", []string{"contract", "agreement", "breach", "clause", "offer", "consideration", "warranty"}},
	{"land_law", []string{"land", "property", "lease", "title deed", "tenant", "landlord", "eviction", "conveyancing"}},
	{"family_law", []string{"divorce", "custody", "marriage", "maintenance", "adoption", "matrimonial"}},
	{"company_law", []string{"company", "shareholder", "director", "partnership", "incorporation", "business registration"}},
	{"criminal_law", []string{"criminal", "offence", "arrest", "bail", "prosecution", "sentence"}},
	{"constitutional_law", []string{"constitution", "constitutional", "fundamental rights", "bill of rights"}},
	{"succession_law", []string{"succession", "inheritance", "estate", "probate", "beneficiary"}},
}

// complexityIndicators signal questions beyond routine advice.
var complexityIndicators = []string{
	"jurisdiction", "precedent", "statutory interpretation", "judicial review",
	"appeal", "arbitration", "cross-border", "tax implications",
	"intellectual property", "constitutional petition",
}

// referralTerms are high-stakes matters that always warrant a lawyer.
var referralTerms = []string{
	"litigation", "lawsuit", "arrest", "arrested", "criminal charges",
	"bankruptcy", "insolvency", "divorce", "custody", "will", "estate",
	"serious injury", "malpractice", "discrimination",
}

var (
	legalAreaPatterns  = compileTermPatterns()
	complexityPatterns = compileWordPatterns(complexityIndicators)
	referralPatterns   = compileWordPatterns(referralTerms)
)

// LegalContext is what the generated text reveals about the matter.
type LegalContext struct {
	LegalAreas  []string
	Complexity  string
	NeedsLawyer bool
}

// ExtractLegalContext classifies the generated answer against the fixed
// vocabularies above.
func ExtractLegalContext(content string) LegalContext {
	lower := strings.ToLower(content)

	var areas []string
	for i, entry := range legalAreaTerms {
		for _, p := range legalAreaPatterns[i] {
			if p.MatchString(lower) {
				areas = append(areas, entry.Area)
				break
			}
		}
	}

	indicators := 0
	for _, p := range complexityPatterns {
		if p.MatchString(lower) {
			indicators++
		}
	}
	complexity := ComplexitySimple
	switch {
	case indicators >= 3:
		complexity = ComplexityComplex
	case indicators >= 1:
		complexity = ComplexityMedium
	}

	needsLawyer := false
	for _, p := range referralPatterns {
		if p.MatchString(lower) {
			needsLawyer = true
			break
		}
	}

	return LegalContext{
		LegalAreas:  areas,
		Complexity:  complexity,
		NeedsLawyer: needsLawyer,
	}
}

func compileTermPatterns() [][]*regexp.Regexp {
	patterns := make([][]*regexp.Regexp, len(legalAreaTerms))
	for i, entry := range legalAreaTerms {
		patterns[i] = compileWordPatterns(entry.Terms)
	}
	return patterns
}

func compileWordPatterns(terms []string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, len(terms))
	for i, term := range terms {
		patterns[i] = regexp.MustCompile(`\b` + regexp.QuoteMeta(term) + `\b`)
	}
	return patterns
}
