// Serializes finished run summaries for operators.
//
// Every run produces the same record in three renderings: JSON for
// machine consumers, CSV for spreadsheets, and Markdown for humans.
// The package reads the summary and writes files; it never reaches
// back into the scheduler.
package report
