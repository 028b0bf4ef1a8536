package generator

import (
	"fmt"
	"strings"
)

// Prompt wording is a product parameter, not part of the orchestration
// contract. These builders mirror the debate format: short conversational
// rebuttals, answered as a strict JSON object so the reply can name who it
// addresses.

func transcript(messages []ContextMessage) string {
	var b strings.Builder
	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		fmt.Fprintf(&b, "%s said: %q\n", msg.UserName, msg.Content)
	}
	return b.String()
}

func summarizePrompt(joined string, limit int) string {
	return fmt.Sprintf(`The following text collects your own past statements in this conversation. Summarize them in your own voice, staying under %d characters: %s`, limit, joined)
}

func generatePrompt(tc TurnContext) string {
	return fmt.Sprintf(`You are %[1]s. You (%[1]s) are in a conversation with %[2]s.
%[3]s
Now you (%[1]s) push back on %[2]s.

Follow these rules:
- Write about 160 characters.
- Assert your own position without hedging.
- State only the rebuttal, nothing else.
- Keep the natural flow of the conversation.
- Write in a spoken, conversational register.
- Attack the gaps in the other side's logic.

Reply with exactly this JSON format, keeping the field names target and content:
{
  "target": "%[2]s",
  "content": "{your (%[1]s) rebuttal}"
}`, tc.SelfName, tc.TargetName, transcript(tc.Messages))
}

func generateWithHumanPrompt(tc TurnContext) string {
	return fmt.Sprintf(`You are %[1]s. You (%[1]s) are in a conversation with %[2]s and a human, %[4]s.
%[3]s
Now you (%[1]s) reply to the human.

Pick whichever of these conditions applies:
- If the human is close to your (%[1]s) position, agree with them.
- If the human is close to %[2]s's position, push back on them.
- If the human raised an unrelated topic, acknowledge it and push back.
- If the human said something inappropriate, say so and push back.
- If the human asked you (%[1]s) a question, answer it.

Follow these rules:
- Write about 160 characters.
- Keep the natural flow of the conversation.
- Write in a spoken, conversational register.

Reply with exactly this JSON format, keeping the field names target and content:
{
  "target": "%[4]s",
  "content": "{your (%[1]s) reply}"
}`, tc.SelfName, tc.TargetName, transcript(tc.Messages), tc.HumanName)
}
