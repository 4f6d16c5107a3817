package tools

const (
	// RecordMessageAnalysis carries the importance classification of one message.
	RecordMessageAnalysis = "record_message_analysis"

	// RecordBehaviorPatterns carries the patterns found in a message history.
	RecordBehaviorPatterns = "record_behavior_patterns"
)

// MessageAnalysisDefinition is the tool the classifier must call with its
// verdict for a single message.
func MessageAnalysisDefinition() Definition {
	return Definition{
		Name: RecordMessageAnalysis,
		Description: "Record how worth remembering a user message is. " +
			"Importance is 0 for small talk and 1 for facts, commitments or problems the assistant must not forget.",
		InputSchema: Object(map[string]Schema{
			"importance": Score("How important the message is to remember, from 0 to 1"),
			"summary":    String("One sentence restating what should be remembered"),
			"sentiment":  Enum("Overall sentiment of the message", "positive", "neutral", "negative"),
			"topics":     List("Short lowercase topic labels", String("Topic label")),
			"entities":   List("Named entities: people, products, places, orders", String("Entity name")),
		}, "importance", "summary", "sentiment", "topics", "entities").WithReasoning(false),
	}
}

// BehaviorPatternsDefinition is the tool the classifier must call with the
// behavioural patterns of a user's message history.
func BehaviorPatternsDefinition() Definition {
	return Definition{
		Name: RecordBehaviorPatterns,
		Description: "Record recurring patterns in a user's messages. " +
			"Every weight is between 0 and 1; omit labels you have no evidence for.",
		InputSchema: Object(map[string]Schema{
			"topics":       WeightMap("Subjects the user talks about, e.g. {\"tech\": 0.8}"),
			"active_hours": WeightMap("Hours of day (\"00\" to \"23\") the user is active in"),
			"style":        WeightMap("Communication style, e.g. {\"brief\": 0.7, \"formal\": 0.2}"),
			"interests":    WeightMap("Products or categories the user shows interest in"),
		}).WithReasoning(false),
	}
}

// AnalysisToolDefinitions returns every classifier tool.
func AnalysisToolDefinitions() []Definition {
	return []Definition{
		MessageAnalysisDefinition(),
		BehaviorPatternsDefinition(),
	}
}
