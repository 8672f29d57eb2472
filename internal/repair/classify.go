package repair

import (
	"fmt"
	"os"
	"strings"

	"sigs.k8s.io/yaml"
)

// Classification labels how a repair pull request was produced.
type Classification string

const (
	ClassDirect    Classification = "direct"
	ClassAutomated Classification = "automated"
	ClassSemiAuto  Classification = "semi_auto"
	ClassManual    Classification = "manual"
	ClassUnknown   Classification = "unknown"
)

// DefaultBotLogins returns the built-in set of known automation accounts.
func DefaultBotLogins() []string {
	return []string{
		"dependabot[bot]",
		"renovate[bot]",
		"renovate-bot",
		"github-actions[bot]",
		"dependabot-preview[bot]",
	}
}

// LoadBotLogins reads additional bot logins from a YAML file of the form
// `bots: [login, ...]`.
func LoadBotLogins(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bots file: %w", err)
	}
	var doc struct {
		Bots []string `json:"bots"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse bots file: %w", err)
	}
	return doc.Bots, nil
}

// Classifier maps authorship signals to a classification. The bot-login set
// is fixed at construction.
type Classifier struct {
	bots map[string]struct{}
}

func NewClassifier(logins []string) Classifier {
	bots := make(map[string]struct{}, len(logins))
	for _, l := range logins {
		bots[strings.ToLower(l)] = struct{}{}
	}
	return Classifier{bots: bots}
}

// IsBot reports whether a login belongs to automated tooling. Matching is
// case-insensitive; an empty login is never a bot.
func (c Classifier) IsBot(login string) bool {
	if login == "" {
		return false
	}
	l := strings.ToLower(login)
	if _, ok := c.bots[l]; ok {
		return true
	}
	return strings.HasSuffix(l, "[bot]") || strings.HasSuffix(l, "-bot") || strings.HasSuffix(l, "_bot")
}

// Classify is a pure function of the author and merger logins. An empty login
// means the corresponding identity is absent.
func (c Classifier) Classify(author, mergedBy string) (Classification, bool, bool) {
	authorBot := c.IsBot(author)
	mergedBot := c.IsBot(mergedBy)
	switch {
	case author == "":
		return ClassDirect, authorBot, mergedBot
	case authorBot && (mergedBy == "" || mergedBot):
		return ClassAutomated, authorBot, mergedBot
	case authorBot:
		return ClassSemiAuto, authorBot, mergedBot
	default:
		return ClassManual, authorBot, mergedBot
	}
}
