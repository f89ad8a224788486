package orchestrator

import (
	"github.com/souravs72/broadflix/internal/models"
	"github.com/souravs72/broadflix/internal/query"
)

// IntentClassifier labels a request for metrics and slow query analysis. It
// never changes how a request is evaluated.
type IntentClassifier struct {
	autocompleteMaxLen int
}

func NewIntentClassifier() *IntentClassifier {
	return &IntentClassifier{
		autocompleteMaxLen: 3,
	}
}

func (ic *IntentClassifier) Classify(spec query.Spec, parsed *query.Parsed) models.Intent {
	text := spec.FreeText()
	if text == "" {
		if spec.ActiveFilterCount() > 0 {
			return models.IntentFaceted
		}
		return models.IntentBrowse
	}

	if spec.ActiveFilterCount() > 0 {
		return models.IntentFaceted
	}

	// Short single-token text is likely typed-ahead input.
	tokens := 1
	if parsed != nil {
		tokens = len(parsed.Tokens)
	}
	if tokens <= 1 && len([]rune(text)) <= ic.autocompleteMaxLen {
		return models.IntentAutocomplete
	}

	return models.IntentFullText
}
