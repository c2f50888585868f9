package descriptions

// Tool descriptions with practical examples and use cases

const (
	FormExtractDirectoryDescription = `Recognize every scanned safety report form in a directory and append the extracted records to the audit workbook.

**When to use:** A folder of scanned or photographed hazard report forms (PDF, PNG, JPEG, TIFF, BMP, WebP) needs to be turned into audit records.

**Why it's useful:** Runs OCR, maps each page onto the form schema, validates the values, and writes the Raw Data, Standardized Lists, CAP Tracker, Monthly Dashboard and Audit Evidence Log sheets in one step. Unreadable files are reported and the rest of the batch still lands in the workbook.

**Examples:**
• Month-end intake: "Extract all forms in /audits/2025-12/ into the audit workbook"
• Re-run after rescanning: "Process /scans/retry/ and append to audit_workbook.xlsx"

**Common workflows:**
1. Intake: form_extract_directory → review diagnostics → fix unreadable scans → re-run on the retry folder
2. Reporting: form_extract_directory → dashboard_generate for the month

**Best practices:** Check the diagnostics list; low-confidence and missing fields are kept in the workbook and flagged, not dropped.`

	FormSchemaInfoDescription = `Describe the form schema used for extraction: fields, value kinds, controlled vocabularies, thresholds and schema version.

**When to use:** Before extracting, to see which labels the extractor looks for, or when a workbook is rejected for a schema mismatch.

**Why it's useful:** Every record and workbook is stamped with the schema version, so this tells you which workbooks the current schema can append to.

**Examples:**
• "Which hazard types does the schema accept?"
• "What confidence does a date need before it is flagged?"

**Best practices:** Compare the reported version with the SchemaVersion column of an existing workbook before appending to it.`

	WorkbookCAPStatusDescription = `List corrective action plans (CAPs) recorded in an audit workbook with their open, closed or overdue status.

**When to use:** Following up on corrective actions, or preparing a safety review meeting.

**Why it's useful:** Status is evaluated at the date you give, so the same workbook answers "what was overdue at month end" as well as "what is overdue today".

**Examples:**
• "Which CAPs are overdue today?"
• "Show CAP status as of 2025-12-31"

**Best practices:** Pass as_of for reproducible reports; without it the current date is used.`

	DashboardGenerateDescription = `Build the monthly safety dashboard from an audit workbook: an Excel summary, a PDF of the charts, an HTML preview, and chart images.

**When to use:** Month-end safety reporting for management or regulators.

**Why it's useful:** Computes the headline KPIs (total hazards, high-risk count, CAPs pending and overdue, wet-lease share), hazard breakdowns by location and type, the risk matrix heat map and the overdue CAP list.

**Examples:**
• "Generate the December 2025 dashboard"
• "Build the dashboard for 3/2026 into /reports/2026-03"

**Common workflows:**
1. form_extract_directory → dashboard_generate → share the PDF

**Best practices:** Extract the whole month first; the dashboard only counts reports dated in the requested month.`
)

// ToolDescriptions maps tool names to their descriptions
var ToolDescriptions = map[string]string{
	"form_extract_directory": FormExtractDirectoryDescription,
	"form_schema_info":       FormSchemaInfoDescription,
	"workbook_cap_status":    WorkbookCAPStatusDescription,
	"dashboard_generate":     DashboardGenerateDescription,
}

// GetToolDescription returns the description for a tool
func GetToolDescription(toolName string) string {
	if desc, exists := ToolDescriptions[toolName]; exists {
		return desc
	}
	return "Tool description not available"
}
