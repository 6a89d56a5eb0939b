package llm

import (
	"fmt"
	"strings"
)

// SystemPrompt frames every answering conversation.
const SystemPrompt = "You are an AI assistant with access to specific memories provided by the user. " +
	"When relevant memories are provided, use them to inform your response. " +
	"If no relevant memories are provided or if they are not useful, respond based on your general knowledge. " +
	"Do not mention the memories unless they are directly relevant to the user's query."

// ClassifyInstruction asks for a strict yes/no relevance judgment.
const ClassifyInstruction = "You are an embedding classification AI agent. Your input will be a search query and a memory. " +
	`You only respond "yes" or "no". ` +
	"Determine whether the memory contains data directly related to the search query. " +
	`Respond "yes" if the memory is exactly what the query needs, "no" otherwise.`

// QueryInstruction asks for a list of atomic search queries.
const QueryInstruction = "You are a first principle reasoning search query AI agent. " +
	"Create a Python list of queries to search the embeddings database for data necessary to respond to the prompt."

type classifyExample struct {
	query, memory, verdict string
}

// One exact match, one loose match, and one topical but irrelevant memory.
var classifyExamples = []classifyExample{
	{"passport photo location", "My passport photo is in C:/folder/", "yes"},
	{"favorite color", "I like blue.", "yes"},
	{"favorite color", "The sky is blue.", "no"},
}

const (
	decomposeExamplePrompt = "Write an email to my car insurance company..."
	decomposeExampleReply  = `["What is the user name?", "What is the user's current auto insurance provider?"]`
)

// ClassifyInput renders a query/memory pair as one user turn.
func ClassifyInput(query, memory string) string {
	return fmt.Sprintf("SEARCH QUERY: %s \n\nMEMORY: %s", query, memory)
}

// ClassifyMessages builds the few-shot relevance classification conversation.
func ClassifyMessages(query, memory string) []Message {
	msgs := []Message{System(ClassifyInstruction)}
	for _, ex := range classifyExamples {
		msgs = append(msgs, User(ClassifyInput(ex.query, ex.memory)), Assistant(ex.verdict))
	}
	return append(msgs, User(ClassifyInput(query, memory)))
}

// DecomposeMessages builds the few-shot query decomposition conversation.
func DecomposeMessages(prompt string) []Message {
	return []Message{
		System(QueryInstruction),
		User(decomposeExamplePrompt),
		Assistant(decomposeExampleReply),
		User(prompt),
	}
}

// MemoriesMessage renders retrieved memories as a context turn.
func MemoriesMessage(memories []string) Message {
	return User("MEMORIES:\n" + strings.Join(memories, "\n"))
}
