package notegen

import (
	"strings"
	"text/template"
)

var promptTmpl = template.Must(template.New("note").Parse(`You are an expert medical scribe assistant for a Chiropractor.
Your task is to convert the consultation transcript into a structured CHIROPRACTIC PATIENT RECORD.

CONTEXT & INSTRUCTIONS:
1. Speaker Identification: Infer who is speaking (Doctor vs Patient) from context if not labeled.
2. Extraction: Fill the schema strictly based on the conversation.
3. Narrative Story-Telling: For fields 'mainProblem', 'historyDetails', and 'diagnosis', do not use short phrases like "Back pain". Write a cohesive, natural story.
4. Missing Info: Use "Denied" or "None" if explicitly denied. Leave empty if not discussed.
5. Medical Terminology: Convert layperson terms to medical terminology where appropriate.

Visit Type: {{.VisitType}}

TRANSCRIPT:
"""
{{.Transcript}}
"""
`))

func buildPrompt(visitType, transcript string) (string, error) {
	var b strings.Builder
	err := promptTmpl.Execute(&b, struct {
		VisitType  string
		Transcript string
	}{visitType, transcript})
	return b.String(), err
}
