package ai

// Sentiments defines the valid sentiment labels an enricher may return.
var Sentiments = []string{
	"positive",
	"negative",
	"neutral",
}

// ValidSentiment reports whether the label is one of Sentiments.
func ValidSentiment(label string) bool {
	for _, s := range Sentiments {
		if s == label {
			return true
		}
	}
	return false
}
