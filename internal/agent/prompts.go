// internal/agent/prompts.go
package agent

import (
	"fmt"
	"strings"
)

const (
	visionNote  = "[You can see the page]"
	domOnlyNote = "[DOM only]"
)

const parseSystemPrompt = `You turn a user's request into the web application, start URL and task it describes. Respond only with JSON.`

// generateParsePrompt asks for the {app_name, url, task} triple.
func generateParsePrompt(instruction string) string {
	return fmt.Sprintf(`Parse: %s

Extract the app, its URL and the task to perform there.

JSON: {"app_name": "...", "url": "https://...", "task": "..."}

Example: "filter database in Notion" → {"app_name": "Notion", "url": "https://www.notion.so", "task": "filter database"}
Example: "open example.com and search for cats" → {"app_name": "example", "url": "https://example.com", "task": "search for cats"}`, instruction)
}

// generateSystemPrompt defines the agent's role, its rules and the output contract.
func generateSystemPrompt(maxElements int) string {
	return fmt.Sprintf(`You are controlling a web browser to complete a task for a user. Each turn you see the interactive elements of the current page and pick exactly one next action.

IMPORTANT RULES:
1. ONLY use index numbers from the elements list, [1] to [%d].
2. Read an element's label before clicking it and make sure it matches your goal.
3. Search boxes submit automatically after typing. Do not click a search button afterwards.
4. After a search, wait one step and look at the results before doing anything else.
5. Take ONE action at a time.
6. When the task is complete, use the done action.

%s

%s`, maxElements, getActionListPrompt(), getClosingPrompt())
}

// getActionListPrompt provides the closed action vocabulary.
func getActionListPrompt() string {
	return `ACTION OPTIONS (use EXACTLY one):

1. CLICK: {"click_element": {"index": 5}}
2. TYPE: {"input_text": {"index": 3, "text": "your text here"}}
   Add "press_enter": true to submit a field that is not a search box.
3. DONE: {"done": {"text": "what was achieved", "success": true}}

EXAMPLE - Clicking a button:
{
  "thinking": "I need the 'Create Project' button. It is element 12",
  "evaluation_previous_goal": "The projects page loaded",
  "memory": "On the projects page, ready to create a project",
  "next_goal": "Click 'Create Project' at index 12",
  "action": [{"click_element": {"index": 12}}]
}

EXAMPLE - Typing in search:
{
  "thinking": "I need to search. The search input is element 5",
  "evaluation_previous_goal": "The page loaded",
  "memory": "On the video site's home page",
  "next_goal": "Type 'funny cats' into the search box at index 5",
  "action": [{"input_text": {"index": 5, "text": "funny cats"}}]
}`
}

// getClosingPrompt fixes the response shape.
func getClosingPrompt() string {
	return `You MUST respond with this EXACT JSON structure and nothing else:
{
  "thinking": "what I see and which element I need",
  "evaluation_previous_goal": "did my last action work",
  "memory": "progress made so far",
  "next_goal": "specific next step",
  "action": [{ ONE ACTION FROM THE OPTIONS }]
}`
}

// generateUserPrompt renders the current observation for one decision.
func generateUserPrompt(in DecisionInput, withImage bool) string {
	note := domOnlyNote
	if withImage {
		note = visionNote
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "TASK: %s\n", in.Task)
	fmt.Fprintf(&sb, "STEP: %d of %d %s\n", in.Step, in.MaxSteps, note)
	if in.URL != "" {
		fmt.Fprintf(&sb, "CURRENT URL: %s\n", in.URL)
	}
	sb.WriteString("\nINTERACTIVE ELEMENTS ON PAGE:\n")
	sb.WriteString(in.Table.Render())
	sb.WriteString("\nWHAT YOU'VE DONE SO FAR:\n")
	sb.WriteString(in.History)
	sb.WriteString("\n\nNow respond with valid JSON:")
	return sb.String()
}
