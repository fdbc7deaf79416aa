package port

// Tokenizer turns text into normalized terms.
type Tokenizer interface {
	Tokenize(text string) []string
}
