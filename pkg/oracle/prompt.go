package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/parchmentco/ledger/pkg/chat"
)

const extractionPromptTemplate = `You segment personal-assistant conversations into topics and extract durable memories about the user.

Given the conversation below, identify the distinct topics discussed. For each topic report its name, the timestamps of the first and last message belonging to it, and the memories worth keeping: stable facts, preferences, plans, and life details. Ignore small talk and transient requests.

Allowed categories: %s. Every memory needs at least one keyword or a category.

Respond with ONLY a JSON object, no markdown, of the form:
{"topics":[{"topic":"...","start":"RFC3339 timestamp","end":"RFC3339 timestamp","memories":[{"memory":"...","keywords":["..."],"category":"..."}]}]}

Conversation:
%s`

const dedupPromptTemplate = `You consolidate a personal assistant's long-term memories. The memories below are suspected duplicates or near-duplicates.

Merge redundant memories: rewrite one survivor per duplicate group so it carries all retained information, and delete the rest. Leave memories that are genuinely distinct untouched. Never delete information that appears nowhere else.

Allowed categories: %s.

Respond with ONLY a JSON object, no markdown, containing exactly the keys "update" and "delete" (both required, possibly empty):
{"update":{"<memory id>":{"memory":"...","keywords":["..."],"category":"..."}},"delete":["<memory id>"]}
Patch fields are optional; omit a field to leave it unchanged.

Memories:
%s`

const mergePromptTemplate = `Do these two topic names from a personal assistant's memory describe the same subject?

Topic A: %q
Topic B: %q

Respond with ONLY a JSON object, no markdown:
{"should_merge": true|false, "unified_name": "..."}
unified_name is required when should_merge is true and should be the clearer of the two names, or a cleaner synthesis of both.`

// ExtractionPrompt renders the topic-extraction prompt for a conversation
// window.
func ExtractionPrompt(messages []chat.Message) string {
	var transcript strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&transcript, "[%s] %s: %s\n", m.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), m.Role, m.Content)
	}

	return fmt.Sprintf(extractionPromptTemplate, strings.Join(categoryNames(), ", "), transcript.String())
}

// DedupPrompt renders the batch-consolidation prompt.
func DedupPrompt(memories []chat.Memory) string {
	listing, _ := json.MarshalIndent(memories, "", "  ")

	return fmt.Sprintf(dedupPromptTemplate, strings.Join(categoryNames(), ", "), string(listing))
}

// MergePrompt renders the topic-merge judgment prompt.
func MergePrompt(nameA, nameB string) string {
	return fmt.Sprintf(mergePromptTemplate, nameA, nameB)
}

func categoryNames() []string {
	cats := chat.Categories()
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = string(c)
	}
	return names
}
