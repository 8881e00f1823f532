package openai

import (
	"fmt"
	"strings"

	"github.com/kirillkom/scanwatcher/internal/core/domain"
)

// SupportedDocumentTypes are the specific type names the classifier may use
// when a document does not fit one of the standard categories.
var SupportedDocumentTypes = []string{
	"Panel List",
	"QME Appointment Notification Form",
	"Agreed Medical Evaluator Report",
	"Qualified Medical Evaluator Report",
	"PTP Initial Report",
	"PTP P&S Report",
	"RFA (Request for Authorization)",
	"UR Approval",
	"UR Denial",
	"Modified UR",
	"Finding and Award",
	"Finding & Order",
	"Advocacy/Cover Letter",
	"Declaration of Readiness to Proceed",
	"Objection to Declaration of Readiness to Proceed",
}

func systemPrompt() string {
	var b strings.Builder
	b.WriteString("You are a legal document classifier. Analyze the document image(s) ")
	b.WriteString("and identify the document type.\n\n")

	b.WriteString("Prefer one of these standard categories when the document clearly matches:\n")
	for _, name := range domain.StandardCategories {
		fmt.Fprintf(&b, "- %s\n", name)
	}

	b.WriteString("\nOtherwise use one of these specific document types, with the exact name:\n")
	for _, name := range SupportedDocumentTypes {
		fmt.Fprintf(&b, "- %s\n", name)
	}

	b.WriteString("\nIf neither fits, use \"")
	b.WriteString(domain.UnclassifiedPrefix)
	b.WriteString("<short description>\".\n\n")

	b.WriteString("Return a JSON object with:\n")
	b.WriteString("- document_type (string): exactly one of the forms above\n")
	b.WriteString("- confidence (0.0-1.0): your confidence in the classification\n")
	b.WriteString("- identifiers (object): extract relevant values using these EXACT keys when available:\n")
	b.WriteString("  * plaintiff_name: the plaintiff/injured worker name (HIGHEST PRIORITY - always extract)\n")
	b.WriteString("  * patient_name: alternative for plaintiff/injured worker (use if plaintiff_name not clear)\n")
	b.WriteString("  * client_name: the employer/defendant company name\n")
	b.WriteString("  * case_number: any case, claim, or file number\n")
	b.WriteString("  * date_of_injury: date of injury if mentioned\n")
	b.WriteString("  * report_date: date of the report/document\n")
	b.WriteString("  * evaluator_name: name of doctor/evaluator if applicable\n")
	b.WriteString("  * other relevant fields as needed\n")
	b.WriteString("  Use these exact key names for consistency in file naming.")

	return b.String()
}

func userText(numPages int) string {
	if numPages == 1 {
		return "Classify this legal document based on the provided page."
	}
	return fmt.Sprintf("Classify this legal document. %d pages are provided for analysis.", numPages)
}
