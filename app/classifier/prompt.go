package classifier

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var firstInteger = regexp.MustCompile(`\d+`)

// BuildPrompt enumerates the candidates and asks for a single category id
func BuildPrompt(candidates []Candidate, previous *uint, text string) string {
	var sb strings.Builder
	sb.WriteString("You classify Facebook Messenger customers into categories.\n")
	sb.WriteString("Categories:\n")
	for _, c := range candidates {
		fmt.Fprintf(&sb, "- id %d: %s", c.ID, c.Name)
		if c.Rule != "" {
			fmt.Fprintf(&sb, "\n  rule: %s", c.Rule)
		}
		if len(c.Examples) > 0 {
			fmt.Fprintf(&sb, "\n  examples: %s", strings.Join(c.Examples, " | "))
		}
		sb.WriteString("\n")
	}
	if previous != nil {
		fmt.Fprintf(&sb, "The customer's previous category id was %d.\n", *previous)
	}
	fmt.Fprintf(&sb, "Customer message:\n%s\n", text)
	sb.WriteString("Answer with the category id only, as a single integer. No other text.")
	return sb.String()
}

// ParseCategory takes the first integer in the answer and accepts it only if it is a known id
func ParseCategory(answer string, candidates []Candidate) (uint, bool) {
	digits := firstInteger.FindString(answer)
	if digits == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	for _, c := range candidates {
		if uint64(c.ID) == n {
			return c.ID, true
		}
	}
	return 0, false
}

const captionPrompt = "Describe what this customer sent in one short sentence, " +
	"naming the product or intent if any. Reply in the customer's language."
