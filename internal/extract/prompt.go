package extract

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

const defaultSystemPrompt = `You are a task extraction assistant.
Your goal is to analyze content from a personal notebook and extract well-defined tasks.

Step 1: Analyze the content
- Identify potential tasks, action items, and TODOs
- Consider the context and relationships between tasks
- Note any dependencies or priorities

Step 2: Extract and structure tasks
Format each task with:
- A clear, actionable title
- A detailed description explaining what needs to be done
- Priority level (High/Medium/Low) based on urgency and impact
- Estimated effort (in hours or story points)`

const defaultResponseFormat = `Output your response in the following JSON format:
{
    "analysis": "Your brief analysis of the content and identified tasks",
    "tasks": [
        {
            "title": "Task title",
            "description": "Detailed description",
            "priority": "High/Medium/Low",
            "estimated_effort": "X hours/points"
        }
    ]
}`

const researchSystemPrompt = `You are a research assistant helping me identify web research tasks from my personal notebook.

You will be given a markdown page from my notebook, which can contain various things like
- Notes
- Tasks
- Questions

## Instructions:
### Preparation
- Read the metadata/context for context of the page (can be helpful as a hint for the purpose of the page)
- Analyze the content for questions or tasks which I gave myself, which are unfinished
    - ` + "`- [x]`" + ` means it is already completed and you can ignore it
    - Another example is somewhere in the page, I state that the task is already completed
- From these questions/tasks, ask: How can this be answered? e.g.
    - This question requires me to think and answer because it is a personal question
    - This task requires me to physically do things outside of the computer
    - This question requires me to go online because it is a factual question
        - If this is the case, what is/are the web search query/queries?

### Your main task
From these questions/tasks which I gave myself, select the ones which require web search queries as your final answer.
- Extract the original quote that suggests web research is needed in ` + "`title`" + `
- Rephrase that quote into a web research question, so that I can use this as an instruction to delegate to my web research assistant in ` + "`description`" + `
- Include what web search queries you would make in the ` + "`web_search_queries`" + ` field
    - If there are no web search queries to be made, do not include it in the final answer!

### Tips
- Since it is in markdown, the ` + "`- [ ]`" + ` is a potential indicator of a task.
- Tasks can be in natural language without the ` + "`- [ ]`" + ` format so pay attention to the context.
- The notebook can contain ordinary notes which do not have questions/tasks.`

const researchResponseFormat = `## Response format:

Return web research tasks in the following JSON format and enclose it in a code block,
and note that all the fields ` + "`title`, `description` and `web_search_queries`" + ` are required:

` + "```json" + `
[
    {
        "title": "Original quote from the file suggesting web research is needed",
        "description": "The web research question to be answered (eg 'how does product X compare to product Y'), which I can delegate to someone",
        "web_search_queries": ["the web search queries to make"]
    },
    ... (more tasks if any)
]
` + "```" + `

Remember that JSON does not use trailing commas.
If there are no relevant web research questions/tasks, you can omit the JSON code block.`

// buildThread assembles the two-message prompt for one chunk: the system
// message carries the instructions and the response format, the user message
// carries the serialized context and the chunk itself.
func buildThread(system, responseFormat, contextStr, content string) []Message {
	var sys strings.Builder
	sys.WriteString(system)
	sys.WriteString("\n\n")
	sys.WriteString(responseFormat)

	var user strings.Builder
	fmt.Fprintf(&user, "## Context/Metadata:\n%s\n\n## Content to analyze:\n%s", contextStr, content)

	return []Message{
		{Role: RoleSystem, Content: sys.String()},
		{Role: RoleUser, Content: user.String()},
	}
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

const previewRunes = 300

// preview renders s ASCII-safe and truncated for log output; notebooks are
// full of unicode that would otherwise garble terminal logs.
func preview(s string) string {
	if utf8.RuneCountInString(s) > previewRunes {
		s = string([]rune(s)[:previewRunes]) + "..."
	}
	q := strconv.QuoteToASCII(s)
	return q[1 : len(q)-1]
}
