package pipeline

import (
	"fmt"
	"strings"

	"github.com/dhcgn/receipt-watcher/model"
)

// DefaultSystemPrompt is used when no system prompt is configured.
const DefaultSystemPrompt = "You are an expert accountant specialized in processing rental property invoices and statements. " +
	"Extract line items accurately, following the format instructions exactly."

const promptIntro = `I need you to analyze this email and any attachments related to rental property invoices or statements.
Extract line items and categorize them appropriately for accounting purposes.
`

const promptInstructions = `
For each line item you identify, please provide:
1. Date (in YYYY-MM-DD format)
2. Description (what the charge or payment is for)
3. Amount (negative for expenses, positive for income)
4. Category (e.g., Utilities, Repairs, Rent)
5. Property (if a specific property address is mentioned)

Rules:
- Do not report totals that only move money between the owner's own accounts.
- If a statement covers several properties, report each item against its own property.

Format your response as JSON objects in the following structure:
[
  {
    "date": "YYYY-MM-DD",
    "description": "Description of item",
    "amount": 123.45,
    "category": "Category",
    "property": "Property address or empty if not specified"
  }
]
`

// AttachmentText is the extracted text of one attachment, labeled with its
// filename.
type AttachmentText struct {
	Filename string
	Text     string
}

// BuildPrompt assembles the user prompt for one message.
func BuildPrompt(msg model.DecodedMessage, attachments []AttachmentText, extra string) string {
	var b strings.Builder
	b.WriteString(promptIntro)
	fmt.Fprintf(&b, "\nEMAIL SUBJECT: %s\n", msg.Subject)
	fmt.Fprintf(&b, "EMAIL DATE: %s\n", msg.Date)
	fmt.Fprintf(&b, "EMAIL BODY:\n%s\n", msg.Body)

	for _, a := range attachments {
		fmt.Fprintf(&b, "\n\nATTACHMENT: %s\n", a.Filename)
		fmt.Fprintf(&b, "CONTENT:\n%s\n", a.Text)
	}

	b.WriteString(promptInstructions)
	if extra = strings.TrimSpace(extra); extra != "" {
		b.WriteString("\n")
		b.WriteString(extra)
		b.WriteString("\n")
	}
	return b.String()
}
