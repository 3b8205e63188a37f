package chat

import (
	"fmt"
	"strings"

	"github.com/askrepo/askrepo/internal/resolver"
)

// BuildSystemPrompt embeds the file-tree summary and the resolved fragments
// into a single system instruction with fixed behavioral rules.
func BuildSystemPrompt(rc *resolver.Context) string {
	var b strings.Builder

	b.WriteString("You are an expert software engineer answering questions about a code repository.\n\n")

	b.WriteString("Project file structure:\n```\n")
	b.WriteString(rc.Tree)
	b.WriteString("\n```\n\n")

	if len(rc.Fragments) == 0 {
		b.WriteString("No file contents are available for this question.\n\n")
	} else {
		b.WriteString("Relevant file contents:\n\n")
		for _, f := range rc.Fragments {
			fmt.Fprintf(&b, "// %s\n%s\n\n", f.Path, f.Content)
		}
	}

	b.WriteString(strings.TrimSpace(`
Rules:
- Base your answer on the file contents above and cite the file names you used.
- If the answer is not covered by the provided context, say so plainly instead of guessing.
- Render any file tree output inside a fenced code block.
- When proposing a new or modified file, start its code block with a comment naming the file path.
`))

	return b.String()
}
