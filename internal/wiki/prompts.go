package wiki

import "github.com/jepras/ConstructionRAG-sub001/internal/search"

const danishOverviewPrompt = `Du er en byggefaglig skribent. Skriv en overordnet projektbeskrivelse ud fra uddrag af et byggeprojekts dokumenter.

Dokumenter i projektet: %s

Uddrag fra materialet:
%s

Skriv 2-4 afsnit der dækker projektets formål, omfang, centrale arbejder og parter. Brug kun oplysninger fra uddragene. Nævn konkrete mål og mængder hvor de fremgår. Skriv på dansk uden overskrifter.`

const englishOverviewPrompt = `You are a construction writer. Write a high-level project description from excerpts of a construction project's documents.

Documents in the project: %s

Excerpts from the material:
%s

Write 2-4 paragraphs covering the project's purpose, scope, main works and parties. Use only information from the excerpts. Mention concrete measurements and quantities where stated. Write in English without headings.`

// Fixed overviews when retrieval finds nothing above the threshold.
const (
	noContentOverviewDanish  = "Det indekserede materiale indeholdt ikke indhold, der kunne danne grundlag for en projektbeskrivelse. Kontroller at de rigtige dokumenter er indekseret, og at indekseringen blev gennemført uden fejl."
	noContentOverviewEnglish = "The indexed material contained no content that could ground a project description. Check that the right documents were indexed and that indexing finished without errors."
)

const danishClusterNamePrompt = `Giv et kort emnenavn på dansk (højst 6 ord) der dækker disse uddrag fra et byggeprojekts dokumenter. Svar kun med navnet.

%s`

const englishClusterNamePrompt = `Give a short topic name in English (at most 6 words) covering these excerpts from a construction project's documents. Answer with the name only.

%s`

const danishStructurePrompt = `Du planlægger en projektwiki for et byggeprojekt. Ud fra projektbeskrivelsen, emneklyngerne og afsnitsoverskrifterne nedenfor skal du foreslå wikiens sider.

Projektbeskrivelse:
%s

Emneklynger:
%s

Afsnitsoverskrifter fra materialet:
%s

Svar med gyldig JSON i præcis denne form:
{"title": "...", "description": "...", "pages": [{"id": "kort-id", "title": "...", "description": "...", "queries": ["søgeforespørgsel", "..."], "relevance_score": 0.9}]}

Krav: højst %d sider, højst %d queries pr. side, den første side skal være en projektoversigt, titler og beskrivelser på dansk, queries formuleret som søgninger i projektmaterialet.`

const englishStructurePrompt = `You are planning a project wiki for a construction project. From the project description, the topic clusters and the section headers below, propose the wiki's pages.

Project description:
%s

Topic clusters:
%s

Section headers from the material:
%s

Answer with valid JSON in exactly this form:
{"title": "...", "description": "...", "pages": [{"id": "short-id", "title": "...", "description": "...", "queries": ["search query", "..."], "relevance_score": 0.9}]}

Requirements: at most %d pages, at most %d queries per page, the first page must be a project overview, titles and descriptions in English, queries phrased as searches into the project material.`

const danishPagePrompt = `Skriv en wikiside i markdown om "%s" for et byggeprojekt.

Sidens formål: %s

Kildedokumenter: %s

Uddrag fra materialet:
%s

Krav:
- Brug kun oplysninger fra uddragene.
- Citér kilden som [filnavn, sidetal] efter hvert væsentligt udsagn.
- Brug overskrifter til at strukturere siden.
- Tilføj et Mermaid-diagram hvis indholdet egner sig til det, ellers ikke.
- Skriv på dansk.`

const englishPagePrompt = `Write a wiki page in markdown about "%s" for a construction project.

Purpose of the page: %s

Source documents: %s

Excerpts from the material:
%s

Requirements:
- Use only information from the excerpts.
- Cite sources as [filename, page_number] after every substantive statement.
- Structure the page with headings.
- Add a Mermaid diagram if the content suits one, otherwise do not.
- Write in English.`

func overviewPrompt(language string) string {
	if language == search.LanguageDanish {
		return danishOverviewPrompt
	}
	return englishOverviewPrompt
}

func noContentOverview(language string) string {
	if language == search.LanguageDanish {
		return noContentOverviewDanish
	}
	return noContentOverviewEnglish
}

func clusterNamePrompt(language string) string {
	if language == search.LanguageDanish {
		return danishClusterNamePrompt
	}
	return englishClusterNamePrompt
}

func structurePrompt(language string) string {
	if language == search.LanguageDanish {
		return danishStructurePrompt
	}
	return englishStructurePrompt
}

func pagePrompt(language string) string {
	if language == search.LanguageDanish {
		return danishPagePrompt
	}
	return englishPagePrompt
}
