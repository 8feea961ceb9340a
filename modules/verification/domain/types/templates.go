package types

import "github.com/jacksonlee411/payroll-portal/pkg/stepflow"

const (
	TemplateEmployeeEKYC           = "employee_ekyc"
	TemplateContractorVerification = "contractor_verification"
)

type TemplateStep struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phase string `json:"phase"`
	Kind  Kind   `json:"kind"`
}

type Template struct {
	Key        string         `json:"key"`
	EntityType EntityType     `json:"entity_type"`
	Steps      []TemplateStep `json:"steps"`
}

func (t Template) Definitions() []stepflow.StepDefinition {
	out := make([]stepflow.StepDefinition, 0, len(t.Steps))
	for _, s := range t.Steps {
		out = append(out, stepflow.StepDefinition{ID: s.ID, Name: s.Name, Phase: s.Phase})
	}
	return out
}

func (t Template) KindOf(stepID string) (Kind, bool) {
	for _, s := range t.Steps {
		if s.ID == stepID {
			return s.Kind, true
		}
	}
	return "", false
}

var templates = map[string]Template{
	TemplateEmployeeEKYC: {
		Key:        TemplateEmployeeEKYC,
		EntityType: EntityEmployee,
		Steps: []TemplateStep{
			{ID: "document_upload", Name: "Document Upload", Phase: "document", Kind: KindDocumentUpload},
			{ID: "face_capture", Name: "Face Capture", Phase: "capture", Kind: KindSelfieCapture},
			{ID: "liveness_check", Name: "Liveness Check", Phase: "capture", Kind: KindLivenessCheck},
			{ID: "face_match", Name: "Face Match", Phase: "verification", Kind: KindFaceMatch},
			{ID: "document_verification", Name: "Document Verification", Phase: "verification", Kind: KindDocumentCheck},
		},
	},
	TemplateContractorVerification: {
		Key:        TemplateContractorVerification,
		EntityType: EntityContractor,
		Steps: []TemplateStep{
			{ID: "document", Name: "Identity Document", Phase: "document", Kind: KindDocumentUpload},
			{ID: "selfie", Name: "Selfie", Phase: "selfie", Kind: KindSelfieCapture},
			{ID: "liveness", Name: "Liveness", Phase: "selfie", Kind: KindLivenessCheck},
			{ID: "match", Name: "Face Match", Phase: "review", Kind: KindFaceMatch},
		},
	},
}

func LookupTemplate(key string) (Template, bool) {
	t, ok := templates[key]
	return t, ok
}

func ListTemplates() []Template {
	return []Template{templates[TemplateEmployeeEKYC], templates[TemplateContractorVerification]}
}
