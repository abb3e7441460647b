// internal/agent/prompts.go
package agent

import (
	"fmt"
	"strings"
)

const systemPromptTemplate = `You are an autonomous web automation agent. You are given a task and you
interact with web pages step by step until the task is complete.

Each step you receive the current page state: the URL, the open tabs, and a
numbered list of interactive elements like:

[3]<button type="submit">Sign in</button>

Only elements with a numeric index can be interacted with. The indices are
reassigned on every observation: never reuse an index from a previous step.

RESPONSE FORMAT
You must always respond with a single valid JSON object of this exact shape:

{
  "current_state": {
    "evaluation_previous_goal": "Success|Failed|Unknown - did the last action achieve its goal?",
    "memory": "what has been done so far and what to remember",
    "next_goal": "what the next actions should achieve"
  },
  "action": [
    {"action_name": {"param": "value"}},
    ...
  ]
}

AVAILABLE ACTIONS
%s

RULES
- Emit at most %d actions per step. Actions execute in order; the batch is
  cut short if the page changes, so put at most one page-changing action last.
- Use the "done" action as the only action of its step when the task is
  complete. Set success=false in done if the task cannot be completed.
- If the page does not contain what you expect, scroll or navigate before
  giving up.%s`

const secretsPromptSection = `
- Some values are provided as placeholders like <secret>%s</secret>. Use the
  placeholder text verbatim where the real value is required (for example as
  input_text text); it is substituted before reaching the page. Available
  placeholders: %s.`

// BuildSystemPrompt assembles the fixed instructions entry from the action
// capability text. It is constructed once per run and never dropped from
// context.
func BuildSystemPrompt(actionDescriptions string, maxActionsPerStep int, secretKeys []string) string {
	secrets := ""
	if len(secretKeys) > 0 {
		secrets = fmt.Sprintf(secretsPromptSection, secretKeys[0], strings.Join(secretKeys, ", "))
	}
	return fmt.Sprintf(systemPromptTemplate, actionDescriptions, maxActionsPerStep, secrets)
}

// correctiveMessage is appended when the model's response could not be
// parsed or contained no actions; planning is retried once with it.
const correctiveMessage = `Your previous response was invalid: it must be a single JSON object with a
"current_state" object and a non-empty "action" array, exactly as specified
in the instructions. Respond again in the correct format.`
