package heuristics

import (
	"regexp"
	"strings"
)

var (
	// Order numbers show up as "#1234", "pedido 1234", "order nº 1234".
	// Tracking codes (letters+digits) are deliberately not matched: we
	// only ever ask customers for order numbers, never tracking numbers.
	hashOrderRe    = regexp.MustCompile(`#\s*(\d{3,10})\b`)
	labeledOrderRe = regexp.MustCompile(`(?i)(?:pedido|order|compra|orden)\s*(?:n[º°o]?\.?\s*)?[:#]?\s*(\d{3,10})\b`)

	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

	subjectPrefixRe = regexp.MustCompile(`(?i)^\s*((re|fwd?|fw|enc|res)\s*:\s*)+`)
)

// ExtractOrderNumber pulls an order number from the subject or body.
// The subject wins when both carry one. Returns "" when nothing matches.
func ExtractOrderNumber(subject, body string) string {
	for _, text := range []string{subject, body} {
		if m := hashOrderRe.FindStringSubmatch(text); m != nil {
			return m[1]
		}
		if m := labeledOrderRe.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return ""
}

// ExtractAlternateEmails returns email addresses mentioned in the body
// other than the sender's. The order lookup tries them when the sender
// address yields no order match (customers often order with one address
// and write from another).
func ExtractAlternateEmails(body, senderEmail string) []string {
	sender := strings.ToLower(strings.TrimSpace(senderEmail))
	seen := map[string]bool{sender: true}

	var alternates []string
	for _, m := range emailRe.FindAllString(body, -1) {
		addr := strings.ToLower(m)
		if seen[addr] {
			continue
		}
		seen[addr] = true
		alternates = append(alternates, addr)
	}
	return alternates
}

// NormalizeSubject strips reply/forward prefixes and collapses
// whitespace so replies thread into the same conversation.
func NormalizeSubject(subject string) string {
	s := subjectPrefixRe.ReplaceAllString(subject, "")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.ToLower(strings.TrimSpace(s))
}

// Language word lists for DetectLanguage. Scoring beats a library here:
// bodies are short, the candidate set is three languages, and the result
// only selects the reply language (the classifier's language wins when
// present).
var languageMarkers = map[string][]string{
	"pt": {"não", "você", "pedido", "obrigado", "obrigada", "já", "ainda", "quando", "meu", "minha", "entrega", "rastreamento", "comprei", "recebi"},
	"es": {"usted", "pedido", "gracias", "cuándo", "todavía", "entrega", "compré", "recibí", "dónde", "envío"},
	"en": {"the", "order", "thanks", "thank", "when", "my", "delivery", "tracking", "bought", "received", "please", "refund"},
}

// DetectLanguage guesses the body's language among pt/es/en, defaulting
// to Portuguese on a tie or no signal.
func DetectLanguage(text string) string {
	lower := " " + normalize(text) + " "

	best, bestScore := "pt", 0
	for _, lang := range []string{"pt", "es", "en"} {
		score := 0
		for _, marker := range languageMarkers[lang] {
			if strings.Contains(lower, " "+marker+" ") {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = lang, score
		}
	}
	return best
}
