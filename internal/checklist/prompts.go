package checklist

import "github.com/jepras/ConstructionRAG-sub001/internal/search"

const danishParsePrompt = `Du er en byggefaglig assistent. Omdan nedenstående tjekliste til JSON med formen:
{"items":[{"number":"1.1","name":"...","description":"..."}],"queries":["..."]}

Regler:
- Hvert punkt skal have nummer, navn og en kort beskrivelse.
- Lav 1-3 søgeforespørgsler pr. punkt i feltet "queries". Forespørgslerne skal kunne finde dokumentation i udbuds- og projektmateriale.
- Svar kun med JSON.

Tjekliste:
%s`

const englishParsePrompt = `You are a construction assistant. Convert the checklist below to JSON of the form:
{"items":[{"number":"1.1","name":"...","description":"..."}],"queries":["..."]}

Rules:
- Every item needs a number, a name and a short description.
- Produce 1-3 search queries per item in the "queries" field. The queries should surface evidence in tender and project material.
- Answer with JSON only.

Checklist:
%s`

const danishAnalysisPrompt = `Du er en byggefaglig granskningsekspert. Vurder hvert punkt på tjeklisten mod uddragene fra projektmaterialet.

For hvert punkt: angiv om kravet er dokumenteret, mangler, udgør en risiko eller er betinget opfyldt, og begrund kort. Henvis til kilder på formen (filnavn, side N). Findes der ingen dokumentation for et punkt, skal det fremgå eksplicit.

Tjekliste:
%s

Uddrag:
%s`

const englishAnalysisPrompt = `You are a construction review expert. Assess each checklist item against the excerpts from the project material.

For every item: state whether the requirement is documented, missing, a risk or conditionally met, with a short justification. Cite sources in the form (filename, page N). When no evidence exists for an item, say so explicitly.

Checklist:
%s

Excerpts:
%s`

const danishStructurePrompt = `Omdan granskningsanalysen til JSON med formen:
{"results":[{"number":"1.1","name":"...","status":"found","description":"...","confidence":0.8,"sources":[{"document_name":"fil.pdf","page_number":3}]}]}

Gyldige statusværdier: found, missing, risk, conditions_met, pending_clarification.
Medtag alle punkter fra tjeklisten, også dem uden dokumentation. Svar kun med JSON.

Tjekliste:
%s

Analyse:
%s`

const englishStructurePrompt = `Convert the review analysis to JSON of the form:
{"results":[{"number":"1.1","name":"...","status":"found","description":"...","confidence":0.8,"sources":[{"document_name":"file.pdf","page_number":3}]}]}

Valid status values: found, missing, risk, conditions_met, pending_clarification.
Include every checklist item, including those without evidence. Answer with JSON only.

Checklist:
%s

Analysis:
%s`

const pendingFindingDanish = "Punktet kunne ikke afklares ud fra analysen og kræver manuel gennemgang."

const pendingFindingEnglish = "The item could not be resolved from the analysis and needs manual review."

func parsePrompt(language string) string {
	if language == search.LanguageDanish {
		return danishParsePrompt
	}
	return englishParsePrompt
}

func analysisPrompt(language string) string {
	if language == search.LanguageDanish {
		return danishAnalysisPrompt
	}
	return englishAnalysisPrompt
}

func structurePrompt(language string) string {
	if language == search.LanguageDanish {
		return danishStructurePrompt
	}
	return englishStructurePrompt
}

func pendingFindingText(language string) string {
	if language == search.LanguageDanish {
		return pendingFindingDanish
	}
	return pendingFindingEnglish
}
