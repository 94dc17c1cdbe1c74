package composer

import (
	"fmt"
	"strings"
)

// Placeholder is replaced with the topic in custom templates.
const Placeholder = "{trend}"

// lengthSlack leaves room under the ceiling for the model overshooting.
const lengthSlack = 45

// DefaultPrompt is the built-in prompt for topic when no template is set.
func DefaultPrompt(topic string, maxLength int) string {
	return fmt.Sprintf("'%s' está em alta. Crie um tweet curto e engajador "+
		"(máximo de %d caracteres) com uma curiosidade sobre o tema. "+
		"Inclua 1 hashtag relevante. Tom informativo. "+
		"Não use datas, saudações, links ou []. Responda APENAS com o texto do tweet.",
		topic, maxLength-lengthSlack)
}

// BuildPrompt constructs the LLM prompt for a post about topic. A template
// that is blank after trimming falls back to DefaultPrompt.
func BuildPrompt(topic, template string, maxLength int) string {
	if strings.TrimSpace(template) == "" {
		return DefaultPrompt(topic, maxLength)
	}
	return strings.ReplaceAll(template, Placeholder, topic)
}
