package notegen

import "github.com/clinote/clinote/internal/platform/genai"

var (
	levels   = []string{"Low", "Moderate", "High", "Unknown"}
	onsets   = []string{"Acute", "Gradual", "Unknown"}
	qualities = []string{"Good", "Fair", "Poor", "Unknown"}
)

// recordSchema mirrors encounter.ClinicalRecord.
var recordSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"occupation":   genai.String(""),
		"workload":     genai.Enum(levels...),
		"isNewPatient": genai.Boolean(),

		"mainProblem": genai.String("Narrative description of the problem"),
		"location":    genai.String(""),
		"onset":       genai.Enum(onsets...),
		"duration":    genai.String(""),
		"painQuality": genai.StringArray(),

		"aggravatedBy":     genai.String(""),
		"relievedBy":       genai.String(""),
		"diurnalVariation": genai.StringArray(),
		"radiation":        genai.String(""),
		"numbness":         genai.Boolean(),
		"weakness":         genai.Boolean(),

		"similarProblems": genai.Boolean(),
		"historyDetails":  genai.String("Detailed narrative story"),
		"previousTrauma":  genai.String(""),

		"conditions":  genai.String(""),
		"surgeries":   genai.String(""),
		"medications": genai.String(""),
		"allergies":   genai.String(""),
		"sickLeave":   genai.Boolean(),

		"redFlags":         genai.StringArray(),
		"redFlagsComments": genai.String(""),

		"activity":     genai.String(""),
		"sleepQuality": genai.Enum(qualities...),
		"stressLevel":  genai.Enum(levels...),
		"workStress":   genai.Boolean(),

		"inspection":        genai.String(""),
		"palpation":         genai.String(""),
		"tenderness":        genai.String(""),
		"jointRestrictions": genai.String(""),
		"rom":               genai.String(""),
		"neuro":             genai.String(""),
		"orthoPositive":     genai.String(""),
		"orthoNegative":     genai.String(""),

		"diagnosis":    genai.String(""),
		"differential": genai.String(""),
		"prognosis":    genai.String(""),

		"plannedTreatment": genai.StringArray(),
		"frequency":        genai.String(""),
		"goals":            genai.String(""),

		"treatedArea": genai.String(""),
		"techniques":  genai.String(""),
		"response":    genai.String(""),

		"exercises":       genai.String(""),
		"advice":          genai.String(""),
		"nextAppointment": genai.String(""),
	},
	Required: []string{
		"mainProblem", "diagnosis", "occupation", "isNewPatient", "workload",
		"painQuality", "diurnalVariation", "redFlags", "plannedTreatment",
	},
}
