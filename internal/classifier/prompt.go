package classifier

import (
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/critward/internal/moderation"
)

// buildFlagPrompt renders the flagging instruction for one evaluation
// request. Transcript lines are "(index) [reply to n] user: ❝content❞";
// the model returns JSON clusters of group indexes inside <result> tags.
func buildFlagPrompt(req *moderation.EvaluationRequest, lines []string, waivedPeople []string) string {
	var sb strings.Builder

	sb.WriteString("You will be given a list of chat messages from a video-game community. ")
	sb.WriteString("Your task is to identify message groups that contain unsolicited and unconstructive criticism.\n\n")

	if req.Meta.Name != "" || req.Meta.ForumParent != "" {
		sb.WriteString("Channel context:\n")
		if req.Meta.Name != "" {
			fmt.Fprintf(&sb, "- Channel: %s\n", req.Meta.Name)
		}
		if req.Meta.ForumParent != "" {
			fmt.Fprintf(&sb, "- Forum: %s\n", req.Meta.ForumParent)
		}
		if req.Meta.Topic != "" {
			fmt.Fprintf(&sb, "- Topic: %s\n", req.Meta.Topic)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Messages are in the format \"(index) user: ❝content❞\". Here is the list of messages:\n\n")
	sb.WriteString("<messages>\n")
	sb.WriteString(strings.Join(lines, "\n"))
	sb.WriteString("\n</messages>\n\n")

	sb.WriteString(`Analyze each message group to determine if it contains unsolicited and/or unconstructive criticism. Unconstructive criticism typically:
1. Offers negative feedback (which may or may not include specific issues)
2. Focuses solely on flaws without acknowledging any positive aspects or providing encouragement (this is the most important)
3. Lacks specific suggestions to fix stated issues

A message group is exempt if it satisfies any of the following:
1. It is part of an ongoing multi-way discussion that started before index 0 (so you cannot check whether it was solicited)
2. It contains enough positive feedback to justify not flagging it
3. The person asking for advice said they are ok with harsh criticism
4. The author is criticising their own work
5. The topic is unrelated to the game
6. The author being criticised is in the list below of people who pre-opted-in to harsh criticism

Here is that (potentially empty) opt-in list:
<waived_people>
`)
	sb.WriteString(strings.Join(waivedPeople, "\n"))
	sb.WriteString(`
</waived_people>

If the same user posted only negative criticism in one group but positive feedback in another, flag neither.

Provide your response in the following format:
<analysis>
[Your brief reasoning for potentially problematic groups; do not quote the messages]
</analysis>

<result>
[JSON array of clusters. Each cluster is {"groups": [indexes of the problematic message groups], "confidence": 0.0-1.0, "rationale": "one sentence"}. Emit [] if nothing is problematic.]
</result>
`)
	return sb.String()
}

// buildFeedbackPrompt renders the instruction for the user-facing warning.
func buildFeedbackPrompt(transcript []string, indexes []int, guidelines string) string {
	var sb strings.Builder

	idxStrs := make([]string, len(indexes))
	for i, idx := range indexes {
		idxStrs[i] = fmt.Sprintf("%d", idx)
	}

	fmt.Fprintf(&sb, "As a community moderator, provide a brief warning/reminder for the message groups with indexes [%s]. ", strings.Join(idxStrs, ", "))
	sb.WriteString("Address all of them at once, even if there are multiple; don't address them individually.\n\n")

	sb.WriteString("Here is the conversation in question:\n<messages>\n")
	sb.WriteString(strings.Join(transcript, "\n"))
	sb.WriteString("\n</messages>\n\n")

	sb.WriteString("Guidelines for feedback:\n<guidelines>\n")
	sb.WriteString(guidelines)
	sb.WriteString("\n</guidelines>\n\n")

	sb.WriteString(`Instructions:
1. Acknowledge the user's perspective
2. Note what about the guidelines they broke
3. Suggest improvements

Keep your response concise and constructive, in a casual tone. Three sentences at most.
Format your response within <response> tags.

<response>
[Your feedback here]
</response>
`)
	return sb.String()
}
