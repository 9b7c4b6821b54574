package suggest

import (
	"fmt"
	"strings"

	"github.com/osa030/tastedeck/internal/domain/suggestion"
	"github.com/osa030/tastedeck/internal/infra/llm"
)

// FormatVersion identifies the reply grammar the prompt asks for and Parse
// accepts. Bump both together.
const FormatVersion = 1

const systemInstruction = `You are a music recommendation assistant.
Reply in plain text using exactly this format (format version %d):

Songs:
1. Song Name%sArtist Name
2. Song Name%sArtist Name

Artists:
1. Artist Name
2. Artist Name

Separate song name and artist with " - " (space, hyphen, space) and use no other separator.
Do not add commentary, explanations or any other sections.`

// Prompt is the pair of messages sent to the language model.
type Prompt struct {
	System string
	User   string
}

// Messages converts the prompt to chat messages.
func (p Prompt) Messages() []llm.Message {
	return []llm.Message{
		{Role: "system", Content: p.System},
		{Role: "user", Content: p.User},
	}
}

// BuildPrompt asks for exactly n songs and n artists similar to the given
// history. exclude lists candidates already tried in this request.
func BuildPrompt(trackLabels, artistNames []string, n int, exclude []string) Prompt {
	var b strings.Builder

	b.WriteString("My top tracks:\n")
	for _, l := range trackLabels {
		fmt.Fprintf(&b, "- %s\n", l)
	}
	b.WriteString("\nMy top artists:\n")
	for _, a := range artistNames {
		fmt.Fprintf(&b, "- %s\n", a)
	}

	fmt.Fprintf(&b, "\nSuggest exactly %d songs and %d artists I might like. ", n, n)
	b.WriteString("Do not include any track or artist listed above.")

	if len(exclude) > 0 {
		b.WriteString("\nAlso do not repeat any of these:\n")
		for _, e := range exclude {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}

	return Prompt{
		System: fmt.Sprintf(systemInstruction, FormatVersion, suggestion.Separator, suggestion.Separator),
		User:   b.String(),
	}
}
