// Package quiz defines the question provider contract and ships a small
// built-in question bank so the engine runs stand-alone. Deployments with a
// real trivia backend substitute their own Provider.
package quiz

import (
	"context"
	"errors"
	"strings"

	"game-session-engine/internal/model"
	"game-session-engine/internal/rng"
)

// Provider generates the ordered question list for a quiz session. Called
// once at session creation.
type Provider interface {
	Generate(ctx context.Context, count int, difficulty string, categories []string) ([]model.Question, error)
}

// ErrNotEnoughQuestions is returned when the bank cannot satisfy the
// requested count.
var ErrNotEnoughQuestions = errors.New("not enough questions in bank")

// bankEntry tags a question with difficulty and category for filtering.
type bankEntry struct {
	question   model.Question
	difficulty string
	category   string
}

// BankProvider serves questions from an in-memory bank, shuffled per call.
type BankProvider struct {
	entries []bankEntry
	seeds   rng.SeedProvider
}

// NewBankProvider creates a provider over the built-in bank.
func NewBankProvider(seeds rng.SeedProvider) *BankProvider {
	return &BankProvider{
		entries: defaultBank(),
		seeds:   seeds,
	}
}

// Generate returns count questions matching the difficulty and categories,
// in shuffled order. Empty difficulty or categories match everything.
func (p *BankProvider) Generate(ctx context.Context, count int, difficulty string, categories []string) ([]model.Question, error) {
	if count < 1 {
		return nil, ErrNotEnoughQuestions
	}

	wanted := make(map[string]bool, len(categories))
	for _, c := range categories {
		wanted[strings.ToLower(c)] = true
	}

	matching := make([]model.Question, 0, len(p.entries))
	for _, e := range p.entries {
		if difficulty != "" && e.difficulty != strings.ToLower(difficulty) {
			continue
		}
		if len(wanted) > 0 && !wanted[e.category] {
			continue
		}
		matching = append(matching, e.question)
	}

	if len(matching) < count {
		return nil, ErrNotEnoughQuestions
	}

	src := p.seeds.Next()
	src.Shuffle(len(matching), func(i, j int) {
		matching[i], matching[j] = matching[j], matching[i]
	})

	return matching[:count], nil
}

// defaultBank is a small general-knowledge set covering both difficulties.
func defaultBank() []bankEntry {
	return []bankEntry{
		{model.Question{Prompt: "What is the capital of France?", Options: [4]string{"Berlin", "Paris", "Madrid", "Rome"}, CorrectIndex: 1}, "easy", "geography"},
		{model.Question{Prompt: "How many continents are there?", Options: [4]string{"five", "six", "seven", "eight"}, CorrectIndex: 2}, "easy", "geography"},
		{model.Question{Prompt: "Which planet is known as the Red Planet?", Options: [4]string{"Venus", "Jupiter", "Mars", "Saturn"}, CorrectIndex: 2}, "easy", "science"},
		{model.Question{Prompt: "What gas do plants absorb from the atmosphere?", Options: [4]string{"Oxygen", "Nitrogen", "Carbon dioxide", "Hydrogen"}, CorrectIndex: 2}, "easy", "science"},
		{model.Question{Prompt: "What is 12 × 12?", Options: [4]string{"124", "144", "154", "164"}, CorrectIndex: 1}, "easy", "math"},
		{model.Question{Prompt: "How many sides does a hexagon have?", Options: [4]string{"five", "six", "seven", "eight"}, CorrectIndex: 1}, "easy", "math"},
		{model.Question{Prompt: "Which ocean is the largest?", Options: [4]string{"Atlantic", "Indian", "Arctic", "Pacific"}, CorrectIndex: 3}, "easy", "geography"},
		{model.Question{Prompt: "Which country has the longest coastline?", Options: [4]string{"Russia", "Australia", "Canada", "Norway"}, CorrectIndex: 2}, "hard", "geography"},
		{model.Question{Prompt: "What is the smallest prime greater than 100?", Options: [4]string{"101", "103", "107", "109"}, CorrectIndex: 0}, "hard", "math"},
		{model.Question{Prompt: "Which element has the atomic number 79?", Options: [4]string{"Silver", "Gold", "Platinum", "Mercury"}, CorrectIndex: 1}, "hard", "science"},
		{model.Question{Prompt: "In what year did the first email get sent?", Options: [4]string{"1965", "1971", "1978", "1983"}, CorrectIndex: 1}, "hard", "history"},
		{model.Question{Prompt: "Which empire built Machu Picchu?", Options: [4]string{"Aztec", "Maya", "Inca", "Olmec"}, CorrectIndex: 2}, "hard", "history"},
	}
}
