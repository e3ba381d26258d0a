// Package prompt turns a capability's static instructions plus the live
// registry listing into the literal system-instruction text submitted to the
// completion oracle. Composition is deterministic: identical inputs produce
// identical output text.
package prompt

import (
	"strings"

	"easyagent/internal/domain"
)

// skeleton is the shared system-instruction layout. Sections are substituted
// with strings.Replacer so composition stays deterministic.
const skeleton = `# Role
$system_instructions
You must output JSON in exactly the specified format.

# Available Agents
You may only select one of the following agents. Judge by the kind of request.
(When every task is complete, hand off to general_agent for the final answer
instead of returning "none" yourself.)

` + "```json" + `
$available_agents
` + "```" + `

# Core Instructions
$core_instructions

# JSON Response Format
Your output must be exactly one JSON object of this shape:
{
  "status": "string",  // "success" on success, "error" on failure
  "task_list": [],     // pending tasks, one string each
  "data": {            // present when status is "success"
    $data_fields
    // See the parameters field of the selected agent in Available Agents.
    // If parameters is empty, pass whatever the next agent needs.
    // If parameters is non-empty, every required parameter must be present.
  },
  "next_agent": "string",  // a name from Available Agents; only general_agent may use "none"
  "agent_selection_reason": "string",  // brief reason for the selection
  "message": "string"  // optional summary on success; required error detail on failure
}`

// taskPreamble is prepended to the system instructions of every non-entry
// capability: they consume the head of the task list.
const taskPreamble = "Take the first task in task_list and remove it once done.\n"

// Compose renders the system-instruction text for one capability turn.
// Entry mode (the first capability of a turn) omits the data-field schema:
// the entry capability only decomposes the request and picks the first hop.
// Standard mode injects the task-consumption preamble and the capability's
// expected data-field shape.
func Compose(tpl domain.PromptTemplate, listingJSON string, entry bool) string {
	system := tpl.SystemInstructions
	dataFields := ""
	if !entry {
		system = taskPreamble + system
		dataFields = tpl.DataFields
	}

	r := strings.NewReplacer(
		"$system_instructions", system,
		"$available_agents", listingJSON,
		"$core_instructions", tpl.CoreInstructions,
		"$data_fields", dataFields,
	)
	return r.Replace(skeleton)
}
