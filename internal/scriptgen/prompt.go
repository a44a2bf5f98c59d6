package scriptgen

import "fmt"

const defaultEpisodeMinutes = 10

// scriptSystemPrompt is the system prompt sent to the model when drafting a
// two-host dialogue script.
const scriptSystemPrompt = `You write conversational podcast scripts for two hosts.

Rules:
- Exactly two speakers, labeled SPEAKER_A and SPEAKER_B.
- Every turn starts on its own line with the label followed by a colon, like "SPEAKER_A: ...".
- No stage directions, sound effects, music cues, or markdown formatting.
- No introductions of the show itself; start directly with the topic.
- Hosts alternate naturally. Short reactions are fine.
- Write out numbers, abbreviations, and symbols as spoken words.

Respond ONLY with the script text.`

func userPrompt(topic string, estimatedMinutes int) string {
	return fmt.Sprintf(
		"Write a podcast dialogue about the following topic. Target a spoken length of roughly %d minutes.\n\nTopic: %s",
		estimatedMinutes, topic,
	)
}
