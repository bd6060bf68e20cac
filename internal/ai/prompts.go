package ai

import "github.com/DukeRupert/aptix/internal/domain"

var systemPrompts = map[domain.GenerationKind]string{
	domain.KindCurriculum: `You are an expert in writing professional resumes.
Write a complete, well-structured and professional resume based on the information provided.
Use markdown formatting for presentation.`,

	domain.KindCoverLetter: `You are an expert in cover letters.
Write a professional, persuasive and personalized cover letter based on the information provided.`,

	domain.KindCustomerService: `You are a customer service specialist.
Write professional, empathetic and effective replies for the customer situation described.`,

	domain.KindDocuments: `You are an expert in legal and business documents.
Write professional, clear and well-structured documents of the requested type.`,

	domain.KindBot: `You are a smart and helpful AI assistant.
Answer any question or request clearly, accurately and usefully.`,
}

// SystemPrompt returns the instructions for a generation kind.
func SystemPrompt(kind domain.GenerationKind) string {
	if p, ok := systemPrompts[kind]; ok {
		return p
	}
	return systemPrompts[domain.KindBot]
}
