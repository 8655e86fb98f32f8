package models

const (
	ContextSeparator = "\n"
	ThinkTag         = `(?s)<think>.*?</think>`
	SourcePreviewLen = 200

	DefaultChunkSize    = 1000 // runes
	DefaultChunkOverlap = 200  // runes
	DefaultTopK         = 3
)

var (
	DefaultPromptTemplate = `Use the following context to answer the question.

Context:
{context}

Question:
{question}

Answer:`

	// ChatPromptTemplate lets the model fall back to its own knowledge.
	ChatPromptTemplate = `Use the following information to answer the question. If the information is not relevant, respond based on your general knowledge.

Context:
{context}

Question: {question}

Answer:`
)
